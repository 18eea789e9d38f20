package models

// Filter is a single-field comparison such as `rating >= 4`.
// Value is compared as text except for numeric fields.
type Filter struct {
	Field string
	Op    string
	Value string
}
