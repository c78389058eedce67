package email

import (
	"fmt"
	"html"
	"strings"
)

// Locales with translated templates. Anything else renders in English.
var Locales = []string{"en", "fr", "de", "it"}

type copyText struct {
	welcomeSubject  string
	welcomeBody     string
	setupAction     string
	paymentSubject  string
	paymentBody     string
	inviteSubject   string
	inviteBody      string
	recoverySubject string
	recoveryBody    string
	greeting        string
}

var copies = map[string]copyText{
	"en": {
		welcomeSubject:  "Welcome to Mise",
		welcomeBody:     "Your restaurant listing is live. Choose a password to manage it from your merchant portal.",
		setupAction:     "Set your password",
		paymentSubject:  "Payment received",
		paymentBody:     "Thank you. We received your payment for the %s plan.",
		inviteSubject:   "Your Mise merchant account",
		inviteBody:      "An account has been prepared for you. Choose a password to sign in.",
		recoverySubject: "Reset your Mise password",
		recoveryBody:    "We received a request to reset your password. The link expires in one hour.",
		greeting:        "Hello",
	},
	"fr": {
		welcomeSubject:  "Bienvenue sur Mise",
		welcomeBody:     "Votre fiche restaurant est en ligne. Choisissez un mot de passe pour la gérer depuis votre espace marchand.",
		setupAction:     "Choisir mon mot de passe",
		paymentSubject:  "Paiement reçu",
		paymentBody:     "Merci. Nous avons bien reçu votre paiement pour la formule %s.",
		inviteSubject:   "Votre compte marchand Mise",
		inviteBody:      "Un compte a été préparé pour vous. Choisissez un mot de passe pour vous connecter.",
		recoverySubject: "Réinitialiser votre mot de passe Mise",
		recoveryBody:    "Nous avons reçu une demande de réinitialisation. Le lien expire dans une heure.",
		greeting:        "Bonjour",
	},
	"de": {
		welcomeSubject:  "Willkommen bei Mise",
		welcomeBody:     "Ihr Restaurant-Eintrag ist online. Wählen Sie ein Passwort, um ihn im Händlerportal zu verwalten.",
		setupAction:     "Passwort festlegen",
		paymentSubject:  "Zahlung erhalten",
		paymentBody:     "Vielen Dank. Wir haben Ihre Zahlung für das Abo %s erhalten.",
		inviteSubject:   "Ihr Mise-Händlerkonto",
		inviteBody:      "Für Sie wurde ein Konto eingerichtet. Wählen Sie ein Passwort, um sich anzumelden.",
		recoverySubject: "Mise-Passwort zurücksetzen",
		recoveryBody:    "Wir haben eine Anfrage zum Zurücksetzen erhalten. Der Link ist eine Stunde gültig.",
		greeting:        "Guten Tag",
	},
	"it": {
		welcomeSubject:  "Benvenuto su Mise",
		welcomeBody:     "La scheda del tuo ristorante è online. Scegli una password per gestirla dal portale esercenti.",
		setupAction:     "Imposta la password",
		paymentSubject:  "Pagamento ricevuto",
		paymentBody:     "Grazie. Abbiamo ricevuto il pagamento per il piano %s.",
		inviteSubject:   "Il tuo account esercente Mise",
		inviteBody:      "Abbiamo preparato un account per te. Scegli una password per accedere.",
		recoverySubject: "Reimposta la password di Mise",
		recoveryBody:    "Abbiamo ricevuto una richiesta di reimpostazione. Il link scade tra un'ora.",
		greeting:        "Buongiorno",
	},
}

// NormalizeLocale maps "fr-CH" and the like onto a supported locale.
func NormalizeLocale(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	if _, ok := copies[locale]; ok {
		return locale
	}
	return "en"
}

func copyFor(locale string) copyText {
	return copies[NormalizeLocale(locale)]
}

func greet(c copyText, name string) string {
	if name == "" {
		return c.greeting + ","
	}
	return c.greeting + " " + name + ","
}

func withLink(to, subject, greeting, body, action, link string) Message {
	return Message{
		To:      to,
		Subject: subject,
		Text:    fmt.Sprintf("%s\n\n%s\n\n%s: %s", greeting, body, action, link),
		HTML: fmt.Sprintf(
			`<p>%s</p><p>%s</p><p><a href="%s">%s</a></p>`,
			html.EscapeString(greeting), html.EscapeString(body), html.EscapeString(link), html.EscapeString(action),
		),
	}
}

// Welcome goes to a merchant provisioned by checkout, carrying the password
// setup link.
func Welcome(to, name, setupLink, locale string) Message {
	c := copyFor(locale)
	return withLink(to, c.welcomeSubject, greet(c, name), c.welcomeBody, c.setupAction, setupLink)
}

// Invitation goes to a merchant provisioned by an admin.
func Invitation(to, name, setupLink, locale string) Message {
	c := copyFor(locale)
	return withLink(to, c.inviteSubject, greet(c, name), c.inviteBody, c.setupAction, setupLink)
}

// Recovery answers a self-service password reset request.
func Recovery(to, link, locale string) Message {
	c := copyFor(locale)
	return withLink(to, c.recoverySubject, greet(c, ""), c.recoveryBody, c.setupAction, link)
}

// PaymentConfirmation is sent after every completed checkout.
func PaymentConfirmation(to, name, plan, locale string) Message {
	c := copyFor(locale)
	body := fmt.Sprintf(c.paymentBody, plan)
	greeting := greet(c, name)
	return Message{
		To:      to,
		Subject: c.paymentSubject,
		Text:    greeting + "\n\n" + body,
		HTML:    fmt.Sprintf(`<p>%s</p><p>%s</p>`, html.EscapeString(greeting), html.EscapeString(body)),
	}
}
