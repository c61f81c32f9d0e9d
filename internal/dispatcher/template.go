package dispatcher

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/nao1215/futari/pkg/config"
	"github.com/nao1215/futari/pkg/event"
)

// renderedMail は組み立て済みのメール。
type renderedMail struct {
	// Subject は件名。
	Subject string
	// Body は本文（HTML）。
	Body string
	// Sender は送信元メールアドレス。
	Sender string
	// ReplyTo は返信先メールアドレス。
	ReplyTo string
}

// mailTemplates は通知メール本文のテンプレート定義。
// 各本文はフッター（footer）を共有する。
const mailTemplates = `
{{define "footer"}}
<hr>
<p><a href="{{.HelpCenterURL}}">ヘルプセンター</a> | <a href="{{.AppBaseURL}}">ふたり</a></p>
{{end}}

{{define "welcome"}}
<p>{{.DisplayName}}さん、ふたりへようこそ！</p>
<p>ふたりは、パートナーとの毎日を記録し、ふたり会議やToDoで暮らしを整えるアプリです。</p>
<p>まずは<a href="{{.AppBaseURL}}">アプリ</a>からパートナーを招待してみましょう。</p>
{{template "footer" .}}
{{end}}

{{define "new_account"}}
<p>{{.LastName}} {{.FirstName}}さん、アカウントの登録が完了しました。</p>
<p>登録メールアドレス: {{.Email}}</p>
<p>心当たりのない場合は<a href="{{.HelpCenterURL}}">ヘルプセンター</a>までご連絡ください。</p>
{{template "footer" .}}
{{end}}

{{define "invite_sent"}}
<p>{{.InviterName}}さんから「{{.CoupleName}}」への招待が届いています。</p>
<p><a href="{{.AcceptURL}}">こちらのリンク</a>から招待を確認してください。</p>
{{template "footer" .}}
{{end}}

{{define "invitation_accepted"}}
<p>{{.InviterName}}さん、おめでとうございます！</p>
<p>「{{.CoupleName}}」への招待が承諾されました。パートナーの登録が完了するまで今しばらくお待ちください。</p>
{{template "footer" .}}
{{end}}

{{define "invitation_declined"}}
<p>{{.InviterName}}さんが送った「{{.CoupleName}}」への招待に返事が届きました。</p>
<p>今回は見送りとなりましたが、<a href="{{.AppBaseURL}}">アプリ</a>からいつでも再度招待できます。</p>
{{template "footer" .}}
{{end}}

{{define "partner_joined"}}
<p>{{.InviterName}}さん、パートナーの登録が完了しました！</p>
<p>今日から「{{.CoupleName}}」のふたりの記録が始まります。</p>
{{template "footer" .}}
{{end}}

{{define "meeting_reminder"}}
<p>まもなくふたり会議「{{.Title}}」が始まります。</p>
<p>開始日時: {{.StartTime}}</p>
{{if .AgendaItems}}
<p>議題:</p>
<ol>
{{range .AgendaItems}}<li>{{.}}</li>
{{end}}</ol>
{{end}}
{{template "footer" .}}
{{end}}

{{define "todo_assigned"}}
<p>パートナーから新しいToDo「{{.Title}}」が割り当てられました。</p>
{{if .Note}}<p>メモ: {{.Note}}</p>{{end}}
<p><a href="{{.AppBaseURL}}">アプリ</a>で確認してください。</p>
{{template "footer" .}}
{{end}}

{{define "general"}}
{{.Body}}
{{template "footer" .}}
{{end}}
`

// Renderer は通知メールの件名と本文を組み立てる。
type Renderer struct {
	// cfg はメール送信設定（リンク先URLなど）。
	cfg config.Mail
	// templates はパース済みの本文テンプレート。
	templates *template.Template
}

// NewRenderer は新しいRendererを生成する。
func NewRenderer(cfg config.Mail) *Renderer {
	return &Renderer{
		cfg:       cfg,
		templates: template.Must(template.New("mail").Parse(mailTemplates)),
	}
}

// render は指定テンプレートを実行し、件名と本文を組み立てる。
func (r *Renderer) render(name, subject string, data map[string]any) (renderedMail, error) {
	data["AppBaseURL"] = r.cfg.AppBaseURL
	data["HelpCenterURL"] = r.cfg.HelpCenterURL

	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return renderedMail{}, fmt.Errorf("メールテンプレート%sの実行に失敗: %w", name, err)
	}
	return renderedMail{
		Subject: subject,
		Body:    buf.String(),
		Sender:  r.cfg.Sender,
		ReplyTo: r.cfg.ReplyTo,
	}, nil
}

// Welcome はウェルカムメールを組み立てる。
func (r *Renderer) Welcome(displayName string) (renderedMail, error) {
	return r.render("welcome", "ふたりへようこそ", map[string]any{
		"DisplayName": displayName,
	})
}

// NewAccount はアカウント登録完了メールを組み立てる。
func (r *Renderer) NewAccount(firstName, lastName, email string) (renderedMail, error) {
	return r.render("new_account", "アカウント登録が完了しました", map[string]any{
		"FirstName": firstName,
		"LastName":  lastName,
		"Email":     email,
	})
}

// InviteSent はパートナーへの招待メールを組み立てる。
func (r *Renderer) InviteSent(inv event.InvitationSnapshot) (renderedMail, error) {
	subject := fmt.Sprintf("%sさんからパートナー招待が届いています", inv.InviterName)
	return r.render("invite_sent", subject, map[string]any{
		"InviterName": inv.InviterName,
		"CoupleName":  inv.CoupleName,
		"AcceptURL":   fmt.Sprintf("%s/%s", r.cfg.InviteAcceptBaseURL, inv.ID),
	})
}

// InvitationAccepted は招待が承諾されたことを知らせるメールを組み立てる。
func (r *Renderer) InvitationAccepted(inv event.InvitationSnapshot) (renderedMail, error) {
	return r.render("invitation_accepted", "招待が承諾されました", map[string]any{
		"InviterName": inv.InviterName,
		"CoupleName":  inv.CoupleName,
	})
}

// InvitationDeclined は招待が辞退されたことを知らせるメールを組み立てる。
func (r *Renderer) InvitationDeclined(inv event.InvitationSnapshot) (renderedMail, error) {
	return r.render("invitation_declined", "招待への返事が届きました", map[string]any{
		"InviterName": inv.InviterName,
		"CoupleName":  inv.CoupleName,
	})
}

// PartnerJoined はパートナーの登録完了を知らせるメールを組み立てる。
func (r *Renderer) PartnerJoined(inv event.InvitationSnapshot) (renderedMail, error) {
	return r.render("partner_joined", "パートナーの登録が完了しました", map[string]any{
		"InviterName": inv.InviterName,
		"CoupleName":  inv.CoupleName,
	})
}

// MeetingReminder はふたり会議のリマインダーメールを組み立てる。
// 議題は登録された順序のまま本文に並べる。
func (r *Renderer) MeetingReminder(title string, startTime time.Time, agendaItems []string) (renderedMail, error) {
	subject := fmt.Sprintf("まもなくふたり会議「%s」が始まります", title)
	return r.render("meeting_reminder", subject, map[string]any{
		"Title":       title,
		"StartTime":   startTime.UTC().Format("2006-01-02 15:04 (UTC)"),
		"AgendaItems": agendaItems,
	})
}

// TodoAssigned はToDoの割り当て通知メールを組み立てる。
func (r *Renderer) TodoAssigned(title, note string) (renderedMail, error) {
	subject := fmt.Sprintf("新しいToDoが割り当てられました: %s", title)
	return r.render("todo_assigned", subject, map[string]any{
		"Title": title,
		"Note":  note,
	})
}

// General は汎用の通知メールを組み立てる。本文はそのまま使用する。
func (r *Renderer) General(subject, body string) (renderedMail, error) {
	return r.render("general", subject, map[string]any{
		"Body": template.HTML(body), //nolint:gosec // 送信元は内部サービスに限られる
	})
}
