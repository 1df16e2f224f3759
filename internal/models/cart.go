package models

// CartItem 购物车条目快照
type CartItem struct {
	ServiceID string `json:"service_id"`
	Name      string `json:"name,omitempty"`
	UnitPrice Money  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

// LocationFee 取送地点及其费用
type LocationFee struct {
	ID      string `json:"id,omitempty"`
	Region  string `json:"region"`
	Area    string `json:"area"`
	Address string `json:"address,omitempty"`
	Fee     Money  `json:"fee"`
}

// IsZero 判断地点是否未填写
func (l *LocationFee) IsZero() bool {
	return l == nil || (l.ID == "" && l.Region == "" && l.Area == "" && l.Address == "")
}
