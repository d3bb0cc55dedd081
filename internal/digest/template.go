package digest

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/sraws/backend/internal/models"
)

var digestTemplate = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>Hi {{.Username}},</h2>
  <p>You have {{len .Items}} unread notification{{if gt (len .Items) 1}}s{{end}} on Sraws:</p>
  <ul>
  {{- range .Items}}
    <li><strong>{{.Title}}</strong>{{if .Body}}: {{.Body}}{{end}} <small>({{.When}})</small></li>
  {{- end}}
  </ul>
  <p><a href="{{.Link}}">Open your notifications</a></p>
</body>
</html>
`))

type digestItem struct {
	Title string
	Body  string
	When  string
}

type digestView struct {
	Username string
	Items    []digestItem
	Link     string
}

func subject(count int) string {
	if count == 1 {
		return "You have 1 new notification on Sraws"
	}
	return fmt.Sprintf("You have %d new notifications on Sraws", count)
}

// render builds the digest body listing every notification.
func render(user *models.User, notifications []models.Notification, appURL string) (string, error) {
	view := digestView{Username: user.Username, Link: appURL + "/notifications"}
	for _, n := range notifications {
		view.Items = append(view.Items, digestItem{
			Title: n.Title,
			Body:  n.Body,
			When:  n.CreatedAt.In(time.Local).Format(time.Kitchen),
		})
	}
	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}
