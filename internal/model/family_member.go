package model

// FamilyMember is one record in the family store. Optional fields are
// pointers so that a field missing from the input stays missing on disk.
type FamilyMember struct {
	ID              int64   `json:"id"`
	ExternalID      string  `json:"externalId"`
	Name            string  `json:"name"`
	Birth           *string `json:"birth,omitempty"`
	Death           *string `json:"death,omitempty"`
	BiologicalSex   *string `json:"biologicalSex,omitempty"`
	Notes           *string `json:"notes,omitempty"`
	Father          *string `json:"father,omitempty"`
	Monarch         *string `json:"monarch,omitempty"`
	IsSuccessionSon *bool   `json:"isSuccessionSon,omitempty"`
}
