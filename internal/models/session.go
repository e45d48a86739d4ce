package models

// DeviceInfo holds parsed information from a User-Agent string
type DeviceInfo struct {
	DeviceType string `json:"device_type"` // mobile, tablet, desktop
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	BrowserVer string `json:"browser_ver"`
	IsBot      bool   `json:"is_bot"`
	Platform   string `json:"platform"` // android, ios, windows, mac, linux
	Raw        string `json:"raw"`
}

// Session is the authenticated caller of a flow operation.
// Token is forwarded to the reservation backend as a bearer token.
type Session struct {
	UserID string
	Email  string
	Roles  []string
	Token  string
	IP     string
	Device DeviceInfo
}
