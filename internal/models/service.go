package models

type Service struct {
	ServiceID string `json:"service_id"`
	ShopID    string `json:"shop_id"`
	Name      string `json:"name"`
	Code      string `json:"code"`
	// Duration is in minutes.
	Duration int  `json:"duration"`
	Active   bool `json:"active"`
}
