package prompt

import (
	"fmt"
	"strings"

	"salesengine/internal/shop"
)

// knowledgeLayer 按共享开关输出店铺知识，全部为空时不输出
func knowledgeLayer(in Input) string {
	var blocks []string

	if in.Permissions.ShareKnowledge {
		for _, s := range in.Knowledge {
			if !s.Enabled || s.Kind != shop.SectionText {
				continue
			}
			if block := titled(s.Title, s.Content); block != "" {
				blocks = append(blocks, block)
			}
		}
	}

	if in.Permissions.ShareLocations {
		if block := locationsBlock(in.Knowledge); block != "" {
			blocks = append(blocks, block)
		}
	}

	if in.Permissions.ShareCatalog {
		for _, s := range in.Knowledge {
			if !s.Enabled || s.Kind != shop.SectionCatalog {
				continue
			}
			title := s.Title
			if title == "" {
				title = "Products and services"
			}
			if block := titled(title, s.Content); block != "" {
				blocks = append(blocks, block)
			}
		}
	}

	if in.Permissions.SharePaymentMethods {
		if block := paymentBlock(enabledPaymentMethods(in)); block != "" {
			blocks = append(blocks, block)
		}
	}

	if len(blocks) == 0 {
		return ""
	}
	return "SHOP INFORMATION:\n\n" + strings.Join(blocks, "\n\n")
}

func titled(title, content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}
	if title = strings.TrimSpace(title); title == "" {
		return content
	}
	return "### " + title + "\n" + content
}

func locationsBlock(sections []shop.KnowledgeSection) string {
	var lines []string
	for _, s := range sections {
		if !s.Enabled {
			continue
		}
		for _, loc := range s.Locations() {
			if line := formatLocation(loc); line != "" {
				lines = append(lines, line)
			}
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "### Locations\n" + strings.Join(lines, "\n")
}

func formatLocation(loc shop.Location) string {
	name := strings.TrimSpace(loc.Name)
	if name == "" {
		return ""
	}

	var area []string
	for _, v := range []string{loc.City, loc.Region} {
		if v = strings.TrimSpace(v); v != "" {
			area = append(area, v)
		}
	}

	var b strings.Builder
	b.WriteString("- ")
	b.WriteString(name)
	if len(area) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(area, ", "))
	}
	if loc.Address != "" {
		b.WriteString(": " + loc.Address)
	}
	if loc.Hours != "" {
		b.WriteString(" | Hours: " + loc.Hours)
	}
	if loc.Phone != "" {
		b.WriteString(" | Phone: " + loc.Phone)
	}
	if loc.MapURL != "" {
		b.WriteString(" | Map: " + loc.MapURL)
	}
	return b.String()
}

func enabledPaymentMethods(in Input) []shop.PaymentMethod {
	if !in.Permissions.SharePaymentMethods {
		return nil
	}
	var out []shop.PaymentMethod
	for _, m := range in.PaymentMethods {
		if m.Enabled && strings.TrimSpace(m.Name) != "" {
			out = append(out, m)
		}
	}
	return out
}

func paymentBlock(methods []shop.PaymentMethod) string {
	if len(methods) == 0 {
		return ""
	}
	lines := make([]string, 0, len(methods))
	for _, m := range methods {
		line := "- " + strings.TrimSpace(m.Name)
		if instr := strings.TrimSpace(m.Instructions); instr != "" {
			line += ": " + instr
		}
		lines = append(lines, line)
	}
	return "### Payment methods\n" + strings.Join(lines, "\n")
}
