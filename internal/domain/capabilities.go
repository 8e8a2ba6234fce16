package domain

type Capability string

const (
	CapContacts           Capability = "contacts"
	CapCampaigns          Capability = "campaigns"
	CapWorkflows          Capability = "workflows"
	CapTemplates          Capability = "templates"
	CapMedia              Capability = "media"
	CapCustomValues       Capability = "customValues"
	CapAccountDetailsSync Capability = "accountDetailsSync"
	CapWebhook            Capability = "webhook"
	CapValidation         Capability = "validation"
)

// AllCapabilities lists every optional capability in a stable order.
var AllCapabilities = []Capability{
	CapContacts,
	CapCampaigns,
	CapWorkflows,
	CapTemplates,
	CapMedia,
	CapCustomValues,
	CapAccountDetailsSync,
	CapWebhook,
	CapValidation,
}

type ProviderCapabilities struct {
	Contacts           bool     `json:"contacts"`
	Campaigns          bool     `json:"campaigns"`
	Workflows          bool     `json:"workflows"`
	Templates          bool     `json:"templates"`
	Media              bool     `json:"media"`
	CustomValues       bool     `json:"customValues"`
	AccountDetailsSync bool     `json:"accountDetailsSync"`
	Webhook            bool     `json:"webhook"`
	Validation         bool     `json:"validation"`
	Auth               AuthMode `json:"auth"`
}

// Has reports the flag for the named capability. Unknown names are false.
func (c ProviderCapabilities) Has(name Capability) bool {
	switch name {
	case CapContacts:
		return c.Contacts
	case CapCampaigns:
		return c.Campaigns
	case CapWorkflows:
		return c.Workflows
	case CapTemplates:
		return c.Templates
	case CapMedia:
		return c.Media
	case CapCustomValues:
		return c.CustomValues
	case CapAccountDetailsSync:
		return c.AccountDetailsSync
	case CapWebhook:
		return c.Webhook
	case CapValidation:
		return c.Validation
	}
	return false
}
