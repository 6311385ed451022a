package main

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.Und)

// titleCase renders snake_case identifiers as labels ("restore_a" -> "Restore A").
func titleCase(value string) string {
	return titleCaser.String(strings.ReplaceAll(value, "_", " "))
}
