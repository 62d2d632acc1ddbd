package dom

type AppInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	App     string `json:"app"`
	AppID   string `json:"appID"`
}
