package entity

import "time"

// TranslationIssue is an aggregated fallback seen by the resource resolver.
type TranslationIssue struct {
	Kind     string    `json:"kind"`
	Key      string    `json:"key"`
	Language string    `json:"language"`
	Param    string    `json:"param,omitempty"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"lastSeen"`
}

// Diagnostics is the operator view of loaded configuration.
type Diagnostics struct {
	Languages             []string           `json:"languages"`
	DefaultLanguage       string             `json:"defaultLanguage"`
	BundleCacheAgeSeconds float64            `json:"bundleCacheAgeSeconds"`
	BundleError           string             `json:"bundleError,omitempty"`
	MissingDefaultKeys    []string           `json:"missingDefaultKeys"`
	Flows                 []string           `json:"flows"`
	FlowsLoadedAt         time.Time          `json:"flowsLoadedAt"`
	Services              []string           `json:"services"`
	DegradedServiceIDs    []string           `json:"degradedServiceIds"`
	Translations          []TranslationIssue `json:"translations"`
}
