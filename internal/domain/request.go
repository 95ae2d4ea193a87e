package domain

// DeploymentRequest is the ephemeral payload of an apply/destroy call.
// An empty DeploymentID signals a new deployment.
type DeploymentRequest struct {
	Event         Event          `json:"event"`
	Module        string         `json:"module"`
	Name          string         `json:"name"`
	Environment   string         `json:"environment"`
	DeploymentID  string         `json:"deployment_id"`
	ModuleVersion string         `json:"module_version"`
	Variables     map[string]any `json:"variables"`
}
