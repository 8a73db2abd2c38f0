package domain

import "encoding/json"

// DefaultUserAgent is used when the launch descriptor carries no user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// LaunchDescriptor is the server-issued, single-use configuration for one
// automation run. It is fetched fresh on every launch and never stored.
type LaunchDescriptor struct {
	AppConfig   AppConfig   `json:"app_config"`
	Network     Network     `json:"network"`
	Credentials Credentials `json:"credentials"`
	Session     SessionRef  `json:"session"`
}

// AppConfig is the target profile configuration portion of a descriptor.
type AppConfig struct {
	Name        string `json:"name"`
	StartURL    string `json:"start_url"`
	UblockRules string `json:"ublock_rules,omitempty"`
	URLBlocks   string `json:"url_blocks,omitempty"`
	SyncEnabled bool   `json:"is_sync_enabled,omitempty"`
}

// Network carries proxy and user-agent parameters for a run.
type Network struct {
	Proxy     *ProxyConfig `json:"proxy"`
	UserAgent string       `json:"user_agent,omitempty"`
}

// ProxyConfig describes the upstream proxy a profile is pinned to.
type ProxyConfig struct {
	Host     string     `json:"host"`
	Port     int        `json:"port"`
	Protocol string     `json:"protocol"`
	Auth     *ProxyAuth `json:"auth,omitempty"`
}

// ProxyAuth holds optional proxy credentials.
type ProxyAuth struct {
	User string `json:"user"`
	Pass string `json:"pass"`
}

// Credentials carries the autofill parameters for a run. The server includes
// the password only when the profile has credential sync enabled for the
// requesting role.
type Credentials struct {
	Username         string `json:"username,omitempty"`
	Password         string `json:"password,omitempty"`
	AutofillEnabled  bool   `json:"is_autofill_enabled,omitempty"`
	LoginSelector    string `json:"login_selector,omitempty"`
	PasswordSelector string `json:"password_selector,omitempty"`
}

// Present reports whether both halves of the credential pair were included.
func (c Credentials) Present() bool {
	return c.Username != "" && c.Password != ""
}

// SessionRef points at the previously stored session artifact, if any.
// DownloadURL is a short-lived signed URL into the object store.
type SessionRef struct {
	DownloadURL string `json:"download_url,omitempty"`
}

// Artifact is the opaque serialized browsing-session state produced and
// consumed by the automation host, plus the version marker assigned when it
// was stored. The store keeps only the latest version.
type Artifact struct {
	Data          json.RawMessage `json:"session_data"`
	VersionMarker string          `json:"hash"`
}

// LaunchPayload is the merged descriptor, prior artifact, and persistence
// strategy handed to the automation host for one run.
type LaunchPayload struct {
	ProfileID        string              `json:"id"`
	Name             string              `json:"name"`
	StartURL         string              `json:"start_url"`
	Proxy            *ProxyData          `json:"proxy_data"`
	UblockRules      string              `json:"ublock_rules,omitempty"`
	URLBlocks        string              `json:"url_blocks,omitempty"`
	Login            string              `json:"login,omitempty"`
	Password         string              `json:"password,omitempty"`
	AutofillEnabled  bool                `json:"is_autofill_enabled,omitempty"`
	LoginSelector    string              `json:"login_selector,omitempty"`
	PasswordSelector string              `json:"password_selector,omitempty"`
	SessionData      json.RawMessage     `json:"session_data,omitempty"`
	SaveStrategy     PersistenceStrategy `json:"save_strategy"`
	Debug            bool                `json:"debug,omitempty"`
}

// ProxyData is the flattened proxy shape the automation host expects.
type ProxyData struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Protocol  string `json:"protocol"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	UserAgent string `json:"user_agent"`
}

// AutomationResult is what the automation host returns after the externally
// launched session ends.
type AutomationResult struct {
	Success     bool            `json:"success"`
	Error       string          `json:"error,omitempty"`
	SessionData json.RawMessage `json:"session_data,omitempty"`
}

// NewLaunchPayload merges a descriptor, prior artifact, and strategy into the
// payload shape the automation host expects.
func NewLaunchPayload(profileID string, desc *LaunchDescriptor, prior *Artifact, strategy PersistenceStrategy, debug bool) *LaunchPayload {
	payload := &LaunchPayload{
		ProfileID:        profileID,
		Name:             desc.AppConfig.Name,
		StartURL:         desc.AppConfig.StartURL,
		UblockRules:      desc.AppConfig.UblockRules,
		URLBlocks:        desc.AppConfig.URLBlocks,
		Login:            desc.Credentials.Username,
		Password:         desc.Credentials.Password,
		AutofillEnabled:  desc.Credentials.AutofillEnabled,
		LoginSelector:    desc.Credentials.LoginSelector,
		PasswordSelector: desc.Credentials.PasswordSelector,
		SaveStrategy:     strategy,
		Debug:            debug,
	}

	if desc.Network.Proxy != nil {
		ua := desc.Network.UserAgent
		if ua == "" {
			ua = DefaultUserAgent
		}
		proxy := &ProxyData{
			Host:      desc.Network.Proxy.Host,
			Port:      desc.Network.Proxy.Port,
			Protocol:  desc.Network.Proxy.Protocol,
			UserAgent: ua,
		}
		if desc.Network.Proxy.Auth != nil {
			proxy.Username = desc.Network.Proxy.Auth.User
			proxy.Password = desc.Network.Proxy.Auth.Pass
		}
		payload.Proxy = proxy
	}

	if prior != nil {
		payload.SessionData = prior.Data
	}

	return payload
}
