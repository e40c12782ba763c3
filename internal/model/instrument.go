package model

// Instrument describes how a symbol is traded at the broker.
type Instrument struct {
	Symbol            string  `yaml:"symbol"`
	FIGI              string  `yaml:"figi"`
	UID               string  `yaml:"uid"`
	ClassCode         string  `yaml:"class_code"`
	Lot               int     `yaml:"lot"`
	MinPriceIncrement float64 `yaml:"min_price_increment"`
	FloatTrade        bool    `yaml:"float_trade"`
}

func (i Instrument) GetUID() string {
	if i.UID != "" {
		return i.UID
	}
	return i.FIGI
}
