package model

import "strings"

// Category represents a valid spending category. The catalog is owned by
// the surrounding application and supplied to the engine as an ordered list.
type Category struct {
	Name string
	ID   int
}

// CategoryByID returns the category with the given ID, or nil.
func CategoryByID(categories []Category, id int) *Category {
	for i := range categories {
		if categories[i].ID == id {
			return &categories[i]
		}
	}
	return nil
}

// CategoryByName returns the category matching the name case-insensitively,
// or nil.
func CategoryByName(categories []Category, name string) *Category {
	for i := range categories {
		if strings.EqualFold(categories[i].Name, name) {
			return &categories[i]
		}
	}
	return nil
}
