package policy

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

var statusEmailTmpl = template.Must(template.New("status").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h1 style="color: #333; border-bottom: 2px solid #4F46E5; padding-bottom: 10px;">Complaint Status Update</h1>
  <p>Dear {{if .Name}}{{.Name}}{{else}}Student{{end}},</p>
  <p>Your complaint <strong>"{{.Title}}"</strong> has been updated.</p>
  <div style="background-color: #F3F4F6; padding: 15px; border-radius: 8px; margin: 20px 0;">
    <p style="margin: 5px 0;"><strong>New Status:</strong> <span style="color: #4F46E5;">{{.Status}}</span></p>
    {{- if .Remarks}}
    <p style="margin: 5px 0;"><strong>Admin Response:</strong></p>
    <p style="margin: 5px 0; padding: 10px; background-color: white; border-radius: 4px;">{{.Remarks}}</p>
    {{- end}}
  </div>
  <p>You can view the full details of your complaint by logging into your account.</p>
  <p style="color: #666; font-size: 14px; margin-top: 30px;">Best regards,<br>Student Grievance System Team</p>
</div>`))

var announcementEmailTmpl = template.Must(template.New("announcement").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <div style="background: #4F46E5; padding: 20px; border-radius: 8px 8px 0 0;">
    <h1 style="color: white; margin: 0; font-size: 24px;">📢 New Announcement</h1>
  </div>
  <div style="background-color: #F9FAFB; padding: 20px; border-radius: 0 0 8px 8px;">
    <h2 style="color: #333; margin-top: 0;">{{.Title}}</h2>
    <div style="background-color: white; padding: 15px; border-radius: 8px; margin: 20px 0; border-left: 4px solid #4F46E5;">
      <p style="margin: 0; color: #555; line-height: 1.6;">{{.Message}}</p>
    </div>
    <p style="color: #999; font-size: 12px; margin-top: 20px;">This is an automated message from the Student Grievance System.</p>
  </div>
</div>`))

type statusEmail struct {
	Name    string
	Title   string
	Status  string
	Remarks string
}

type announcementEmail struct {
	Title   string
	Message string
}

func render(t *template.Template, data any) string {
	var b bytes.Buffer
	if err := t.Execute(&b, data); err != nil {
		// Templates are static; only a writer failure can land here.
		return template.HTMLEscapeString(fmt.Sprint(data))
	}
	return b.String()
}

func statusEmailSubject(title string) string { return "Complaint Update: " + title }

func announcementSubject(title string) string { return "📢 " + title }

func statusPushSubject(title string) string {
	return fmt.Sprintf("Complaint \"%s\" status updated", title)
}

func statusPushBody(title, from, to string) string {
	if from == "" {
		return fmt.Sprintf("Your complaint \"%s\" is now %s.", title, to)
	}
	return fmt.Sprintf("Your complaint \"%s\" moved from %s to %s.", title, from, to)
}

func remarksPushSubject(title string) string {
	return fmt.Sprintf("Admin replied to \"%s\"", title)
}

func smsText(name, title, status string) string {
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hi %s, your urgent complaint \"%s\" has been updated to: %s. Please check your email for details.", name, title, status)
}

func callText(id, title string) string {
	return fmt.Sprintf("Emergency alert. This is an automated call regarding complaint %s: %s. Please check your complaint portal immediately.", id, title)
}

func newComplaintPushSubject(title string) string { return "New complaint: " + title }

func newComplaintPushBody(student, category string) string {
	parts := make([]string, 0, 2)
	if student != "" {
		parts = append(parts, "From "+student)
	}
	if category != "" {
		parts = append(parts, category)
	}
	return strings.Join(parts, " - ")
}

// Truncate shortens s to n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
