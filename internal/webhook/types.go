package webhook

import "time"

// IssuesEvent is the payload of a GitHub "issues" webhook.
type IssuesEvent struct {
	Action     string     `json:"action"`
	Issue      Issue      `json:"issue"`
	Repository Repository `json:"repository"`
	Sender     User       `json:"sender"`
}

type Issue struct {
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	State       string    `json:"state"`
	HTMLURL     string    `json:"html_url"`
	Labels      []Label   `json:"labels"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request,omitempty"`
}

type Label struct {
	Name string `json:"name"`
}

type Repository struct {
	FullName string `json:"full_name"`
	Name     string `json:"name"`
	Owner    User   `json:"owner"`
}

type User struct {
	Login string `json:"login"`
	Type  string `json:"type"`
}
