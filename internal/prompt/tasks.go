package prompt

import (
	"strings"
	"text/template"

	"salesengine/internal/shop"
)

// ProductBrief 商品描述生成的输入
type ProductBrief struct {
	Name     string
	Category string
	Price    string
	Features []string
	Keywords []string
}

var descriptionTmpl = template.Must(template.New("description").Parse(`You write product descriptions for {{if .ShopName}}the shop "{{.ShopName}}"{{else}}an online shop{{end}}.
Write one persuasive description of 2 to 4 short paragraphs in {{.Language}}.
- {{.Directive}}
- Mention only facts given below. Do not invent materials, sizes, prices or guarantees.
- Return only the description text, without a title, markdown or quotes.

Product: {{.Name}}
{{- if .Category}}
Category: {{.Category}}
{{- end}}
{{- if .Price}}
Price: {{.Price}}
{{- end}}
{{- if .Features}}
Features:
{{- range .Features}}
- {{.}}
{{- end}}
{{- end}}
{{- if .Keywords}}
Keywords to include naturally: {{.Keywords}}
{{- end}}`))

var suggestionsTmpl = template.Must(template.New("suggestions").Parse(`You help a shop team answer a customer chat{{if .ShopName}} for "{{.ShopName}}"{{end}}.
Read the conversation and propose {{.Count}} short replies the team could send next, in {{.Language}}.
- {{.Directive}}
- Each reply must be a single message of at most two sentences.
- Do not promise discounts, prices or delivery dates that were not mentioned.
Respond with a JSON array of strings only, for example ["Reply one", "Reply two"].`))

var imageEditTmpl = template.Must(template.New("image_edit").Parse(`You edit product photos for {{if .ShopName}}the shop "{{.ShopName}}"{{else}}an online shop{{end}}.
Apply the requested change to the attached photo and return the edited image.
- Keep the product itself unchanged: same shape, colors, labels and proportions.
- Do not add text, logos, prices or watermarks unless the request asks for them.
- If the request cannot be applied without changing the product, return the photo with the closest safe edit.`))

// DescriptionInstruction 商品描述的系统指令
func DescriptionInstruction(p shop.Profile, language, tone string, brief ProductBrief) string {
	return strings.TrimSpace(render(descriptionTmpl, map[string]any{
		"ShopName":  p.ShopName,
		"Language":  pickLanguage(language, p),
		"Directive": toneDirective(pickTone(tone, p)),
		"Name":      brief.Name,
		"Category":  brief.Category,
		"Price":     brief.Price,
		"Features":  brief.Features,
		"Keywords":  strings.Join(brief.Keywords, ", "),
	}))
}

// SuggestionsInstruction 回复建议的系统指令，要求模型返回 JSON 字符串数组
func SuggestionsInstruction(p shop.Profile, language, tone string, count int) string {
	return strings.TrimSpace(render(suggestionsTmpl, map[string]any{
		"ShopName":  p.ShopName,
		"Language":  pickLanguage(language, p),
		"Directive": toneDirective(pickTone(tone, p)),
		"Count":     count,
	}))
}

// ImageEditInstruction 商品图片编辑的系统指令，具体修改要求放在用户消息中
func ImageEditInstruction(p shop.Profile) string {
	return strings.TrimSpace(render(imageEditTmpl, map[string]any{
		"ShopName": p.ShopName,
	}))
}

func pickLanguage(override string, p shop.Profile) string {
	if l := strings.TrimSpace(override); l != "" {
		return l
	}
	if l := strings.TrimSpace(p.PrimaryLanguage); l != "" {
		return l
	}
	return DefaultLanguage
}

func pickTone(override string, p shop.Profile) string {
	if t := strings.TrimSpace(override); t != "" {
		return t
	}
	if t := strings.TrimSpace(p.Tone); t != "" {
		return t
	}
	return "friendly"
}
