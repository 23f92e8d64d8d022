package prompt

import (
	"testing"

	"salesengine/internal/shop"

	"github.com/stretchr/testify/assert"
)

func TestDescriptionInstruction(t *testing.T) {
	brief := ProductBrief{
		Name:     "Date cake",
		Category: "Cakes",
		Price:    "45 SAR",
		Features: []string{"Fresh dates", "Serves 8"},
		Keywords: []string{"dessert", "gift"},
	}

	t.Run("包含商品信息", func(t *testing.T) {
		out := DescriptionInstruction(shop.Profile{ShopName: "Rose Bakery"}, "", "", brief)
		assert.Contains(t, out, `the shop "Rose Bakery"`)
		assert.Contains(t, out, "Product: Date cake")
		assert.Contains(t, out, "Category: Cakes")
		assert.Contains(t, out, "Price: 45 SAR")
		assert.Contains(t, out, "- Fresh dates")
		assert.Contains(t, out, "Keywords to include naturally: dessert, gift")
		assert.Contains(t, out, "in "+DefaultLanguage)
	})

	t.Run("缺省字段不输出", func(t *testing.T) {
		out := DescriptionInstruction(shop.Profile{}, "", "", ProductBrief{Name: "Bread"})
		assert.Contains(t, out, "an online shop")
		assert.NotContains(t, out, "Category:")
		assert.NotContains(t, out, "Price:")
		assert.NotContains(t, out, "Features:")
		assert.NotContains(t, out, "Keywords")
	})

	t.Run("语言优先取请求参数", func(t *testing.T) {
		p := shop.Profile{PrimaryLanguage: "Arabic"}
		assert.Contains(t, DescriptionInstruction(p, "French", "", brief), "in French")
		assert.Contains(t, DescriptionInstruction(p, "", "", brief), "in Arabic")
	})

	t.Run("自定义语气", func(t *testing.T) {
		out := DescriptionInstruction(shop.Profile{}, "", "playful", brief)
		assert.Contains(t, out, toneDirective("playful"))
	})
}

func TestSuggestionsInstruction(t *testing.T) {
	out := SuggestionsInstruction(shop.Profile{ShopName: "Rose Bakery", Tone: "formal"}, "", "", 3)
	assert.Contains(t, out, `for "Rose Bakery"`)
	assert.Contains(t, out, "propose 3 short replies")
	assert.Contains(t, out, "JSON array of strings")
	assert.Contains(t, out, toneDirective("formal"))
}

func TestImageEditInstruction(t *testing.T) {
	out := ImageEditInstruction(shop.Profile{ShopName: "Rose Bakery"})
	assert.Contains(t, out, `the shop "Rose Bakery"`)
	assert.Contains(t, out, "Keep the product itself unchanged")

	assert.Contains(t, ImageEditInstruction(shop.Profile{}), "an online shop")
}
