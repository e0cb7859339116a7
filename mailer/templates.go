package mailer

import (
	"fmt"
	"html/template"
	"strings"
	"time"
)

var verificationTmpl = template.Must(template.New("verification").Parse(`<html>
<body style="font-family: sans-serif; color: #222;">
  <h2>Confirm your email address</h2>
  <p>Thanks for signing up. Use the token below to activate your account:</p>
  <p style="font-size: 18px; font-weight: bold; letter-spacing: 1px;">{{.Token}}</p>
  <p>The token is valid for {{.Validity}}. If you did not create an account,
  you can ignore this message.</p>
</body>
</html>`))

var otpTmpl = template.Must(template.New("otp").Parse(`<html>
<body style="font-family: sans-serif; color: #222;">
  <h2>Your login code</h2>
  <p style="font-size: 28px; font-weight: bold; letter-spacing: 6px;">{{.Code}}</p>
  <p>The code expires in {{.Validity}}. Do not share it with anyone.</p>
  <p>If you did not try to log in, change your password now.</p>
</body>
</html>`))

var lockedTmpl = template.Must(template.New("locked").Parse(`<html>
<body style="font-family: sans-serif; color: #222;">
  <h2>Your account has been temporarily locked</h2>
  <p>We detected too many failed login attempts and locked your account
  for {{.Duration}}.</p>
  <p>You can log in again after the lock expires. If this was not you,
  change your password as soon as the account unlocks.</p>
</body>
</html>`))

func renderVerification(token string, validity time.Duration) (Message, error) {
	var sb strings.Builder
	err := verificationTmpl.Execute(&sb, struct {
		Token    string
		Validity string
	}{token, humanDuration(validity)})
	if err != nil {
		return Message{}, fmt.Errorf("mailer: render verification: %w", err)
	}
	return Message{Subject: "Confirm your email address", HTML: sb.String()}, nil
}

func renderOtp(code string, validity time.Duration) (Message, error) {
	var sb strings.Builder
	err := otpTmpl.Execute(&sb, struct {
		Code     string
		Validity string
	}{code, humanDuration(validity)})
	if err != nil {
		return Message{}, fmt.Errorf("mailer: render otp: %w", err)
	}
	return Message{Subject: "Your login code", HTML: sb.String()}, nil
}

func renderLocked(duration time.Duration) (Message, error) {
	var sb strings.Builder
	err := lockedTmpl.Execute(&sb, struct {
		Duration string
	}{humanDuration(duration)})
	if err != nil {
		return Message{}, fmt.Errorf("mailer: render lock notice: %w", err)
	}
	return Message{Subject: "Account temporarily locked", HTML: sb.String()}, nil
}

func humanDuration(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	if d >= time.Minute {
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return d.String()
}
