package domain

// ModuleParameter describes one input accepted by a deployable module.
type ModuleParameter struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Nullable    bool   `json:"nullable" yaml:"nullable"`
	Sensitive   bool   `json:"sensitive" yaml:"sensitive"`
}

// ModuleManifest is the versioned description of a deployable module.
// Manifests are immutable once inserted; a new version is a new record.
type ModuleManifest struct {
	Module      string            `json:"module"`
	ModuleName  string            `json:"module_name"`
	Version     string            `json:"version"`
	Environment string            `json:"environment"`
	Description string            `json:"description,omitempty"`
	Reference   string            `json:"reference,omitempty"`
	Source      string            `json:"source"`
	Parameters  []ModuleParameter `json:"parameters,omitempty"`
	Timestamp   string            `json:"timestamp"`
}

// Environment tracks when a deployment environment last saw registry
// activity.
type Environment struct {
	Name              string `json:"environment"`
	LastActivityEpoch int64  `json:"last_activity_epoch"`
}
