package service

import (
	_ "embed"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnknownRegion is reported for empty or unmapped country codes.
const UnknownRegion = "Unknown"

//go:embed regions.yaml
var regionsYAML []byte

var countryRegions = mustLoadRegions(regionsYAML)

func mustLoadRegions(data []byte) map[string]string {
	var byRegion map[string][]string
	if err := yaml.Unmarshal(data, &byRegion); err != nil {
		panic("parse regions.yaml: " + err.Error())
	}
	out := make(map[string]string)
	for region, codes := range byRegion {
		for _, code := range codes {
			out[strings.ToUpper(code)] = region
		}
	}
	return out
}

// RegionForCountry maps a country code to its region.
func RegionForCountry(code string) string {
	if region, ok := countryRegions[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return region
	}
	return UnknownRegion
}
