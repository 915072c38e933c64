package protocol

// CollectorMetadata is the result of a getMetadata call: identity,
// field requirements, defaults, and setup instructions for a collector
// plugin (§3).
type CollectorMetadata struct {
	CollectorName string `json:"collectorName"`
	DisplayName   string `json:"displayName"`
	Description   string `json:"description,omitempty"`
	Category      string `json:"category,omitempty"`
	Emoji         string `json:"emoji,omitempty"`

	FieldRequirements FieldRequirements `json:"fieldRequirements"`
	Defaults          CollectorDefaults `json:"defaults"`
	SetupInstructions []SetupStep       `json:"setupInstructions,omitempty"`

	SupportsPersistentSession bool   `json:"supportsPersistentSession,omitempty"`
	RequiredServiceType       string `json:"requiredServiceType,omitempty"`
}

// FieldRequirements declares whether the host UI should prompt the user
// for a URL and/or an access token, with optional presentation hints.
type FieldRequirements struct {
	RequiresURL         bool   `json:"requiresUrl"`
	RequiresAccessToken bool   `json:"requiresAccessToken"`
	URLLabel            string `json:"urlLabel,omitempty"`
	URLPlaceholder      string `json:"urlPlaceholder,omitempty"`
	URLPattern          string `json:"urlPattern,omitempty"`
	AccessTokenLabel    string `json:"accessTokenLabel,omitempty"`
	AccessTokenPlaceholder string `json:"accessTokenPlaceholder,omitempty"`
	AccessTokenPattern  string `json:"accessTokenPattern,omitempty"`
}

// CollectorDefaults are the suggested defaults a host should pre-fill when
// a user first configures a collector.
type CollectorDefaults struct {
	Name        string `json:"name,omitempty"`
	URL         string `json:"url,omitempty"`
	PollRateMs  int    `json:"pollRateMs"`
	SendRateMs  int    `json:"sendRateMs"`
}

// SetupStep is one step of a collector's setup-instructions list.
type SetupStep struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// ConfigureParams are the parameters of a configure call (§3). The
// supervisor memoizes the last-seen value of this struct per plugin so it
// can be replayed after a restart (§4.C).
type ConfigureParams struct {
	CollectorID   int     `json:"collectorId"`
	URL           *string `json:"url,omitempty"`
	AccessToken   *string `json:"accessToken,omitempty"`
	DecimalPlaces *int    `json:"decimalPlaces,omitempty"`
}
