package models

type CreditPack struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Credits         int    `json:"credits"`
	PriceMinorUnits int    `json:"price_minor_units"`
	Currency        string `json:"currency"`
}

// CreditPacks is the static purchase catalog. It is shared read-only between
// invoice creation and payment crediting and never changes at runtime.
var CreditPacks = []CreditPack{
	{
		ID:              "start10",
		Title:           "10 генераций",
		Description:     "Стартовый пакет для знакомства",
		Credits:         10,
		PriceMinorUnits: 19900,
		Currency:        "RUB",
	},
	{
		ID:              "pack50",
		Title:           "50 генераций",
		Description:     "Самый популярный пакет",
		Credits:         50,
		PriceMinorUnits: 69900,
		Currency:        "RUB",
	},
	{
		ID:              "pack200",
		Title:           "200 генераций",
		Description:     "Для тех, кто генерирует каждый день",
		Credits:         200,
		PriceMinorUnits: 199900,
		Currency:        "RUB",
	},
}

func FindCreditPack(id string) (CreditPack, bool) {
	for _, p := range CreditPacks {
		if p.ID == id {
			return p, true
		}
	}
	return CreditPack{}, false
}
