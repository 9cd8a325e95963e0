package types

// Point is a WGS84 coordinate pair.
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// DeliveryAddress is the address snapshot stored on an order.
type DeliveryAddress struct {
	AddressID  string  `json:"address_id,omitempty"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      string  `json:"state,omitempty"`
	PostalCode string  `json:"postal_code,omitempty"`
	Country    string  `json:"country"`
	Location   Point   `json:"location"`
}
