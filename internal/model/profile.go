// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

// Profile is the single record this server manages.
//
// Handle is the only required field. Everything else is optional, and an
// optional field is "absent" when it holds the empty string. The `omitempty`
// struct tag drops absent fields from the JSON output, so the persisted file
// and the API responses only ever contain the fields that were actually set:
//
//	Profile{Handle: "ada", Website: "https://ada.dev"}
//	→ {"handle":"ada","website":"https://ada.dev"}
//
// WHY PLAIN STRINGS (not *string)?
// An empty name, company or URL carries no information, so we treat "" and
// "missing" as the same thing. Plain strings keep the struct comparable with ==,
// which the tests rely on when checking that memory and disk agree.
type Profile struct {
	Handle      string `json:"handle"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	Website     string `json:"website,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}
