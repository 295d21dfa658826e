package models

type ProfileData struct {
	Name        string `json:"name" example:"terminal" doc:"Profile name"`
	Description string `json:"description,omitempty" doc:"Free-form description"`
	Mode        string `json:"mode,omitempty" enum:"snapshot,clip" doc:"Capture mode"`
	Prompt      string `json:"prompt,omitempty" doc:"Analysis prompt"`
	Window      string `json:"window,omitempty" example:"3s" doc:"Window length"`
	Recording   bool   `json:"recording,omitempty" doc:"Start recording on session creation"`
}

type ProfileResponse struct {
	Body ProfileData
}

type ProfileListData struct {
	Profiles []ProfileData `json:"profiles" doc:"Profiles sorted by name"`
	Count    int           `json:"count" doc:"Number of profiles"`
}

type ProfileListResponse struct {
	Body ProfileListData
}

type ProfilePath struct {
	Name string `path:"name" doc:"Profile name"`
}

type ProfileBody struct {
	Description string `json:"description,omitempty" doc:"Free-form description"`
	Mode        string `json:"mode,omitempty" enum:"snapshot,clip" doc:"Capture mode"`
	Prompt      string `json:"prompt,omitempty" doc:"Analysis prompt"`
	Window      string `json:"window,omitempty" example:"3s" doc:"Window length"`
	Recording   bool   `json:"recording,omitempty" doc:"Start recording on session creation"`
}

type ProfilePutRequest struct {
	Name string `path:"name" doc:"Profile name"`
	Body ProfileBody
}
