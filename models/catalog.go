package models

import "encoding/json"

// Candidate is an option a ballot can choose.
type Candidate struct {
	Slug        string          `json:"slug"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	ImgURL      *string         `json:"img_url,omitempty"`
	Extra       json.RawMessage `json:"extra,omitempty"`
}

// Category groups candidates; each address votes once per category.
type Category struct {
	Slug  string          `json:"slug"`
	Name  string          `json:"name"`
	Extra json.RawMessage `json:"extra,omitempty"`
}
