package login

import (
	"errors"

	"github.com/dukerupert/mise/internal/email"
	"github.com/dukerupert/mise/internal/identity"
)

type messageKey int

const (
	msgInvalidCredentials messageKey = iota
	msgNotMerchant
	msgInvalidInput
	msgUnavailable
	msgInvalidToken
	msgWeakPassword
	msgRecoverySent
)

var messages = map[string]map[messageKey]string{
	"en": {
		msgInvalidCredentials: "The email or password is incorrect.",
		msgNotMerchant:        "This account does not have access to the merchant portal.",
		msgInvalidInput:       "Please enter a valid email address and password.",
		msgUnavailable:        "Sign-in is temporarily unavailable. Please try again shortly.",
		msgInvalidToken:       "This link is invalid or has expired. Please request a new one.",
		msgWeakPassword:       "Your password must be at least 8 characters long.",
		msgRecoverySent:       "If an account exists for this address, we have sent instructions to it.",
	},
	"fr": {
		msgInvalidCredentials: "L'adresse e-mail ou le mot de passe est incorrect.",
		msgNotMerchant:        "Ce compte n'a pas accès à l'espace marchand.",
		msgInvalidInput:       "Veuillez saisir une adresse e-mail et un mot de passe valides.",
		msgUnavailable:        "La connexion est momentanément indisponible. Veuillez réessayer sous peu.",
		msgInvalidToken:       "Ce lien est invalide ou a expiré. Veuillez en demander un nouveau.",
		msgWeakPassword:       "Votre mot de passe doit comporter au moins 8 caractères.",
		msgRecoverySent:       "Si un compte existe pour cette adresse, nous y avons envoyé des instructions.",
	},
	"de": {
		msgInvalidCredentials: "E-Mail-Adresse oder Passwort ist falsch.",
		msgNotMerchant:        "Dieses Konto hat keinen Zugang zum Händlerportal.",
		msgInvalidInput:       "Bitte geben Sie eine gültige E-Mail-Adresse und ein Passwort ein.",
		msgUnavailable:        "Die Anmeldung ist vorübergehend nicht verfügbar. Bitte versuchen Sie es gleich noch einmal.",
		msgInvalidToken:       "Dieser Link ist ungültig oder abgelaufen. Bitte fordern Sie einen neuen an.",
		msgWeakPassword:       "Ihr Passwort muss mindestens 8 Zeichen lang sein.",
		msgRecoverySent:       "Falls ein Konto für diese Adresse existiert, haben wir eine Anleitung dorthin gesendet.",
	},
	"it": {
		msgInvalidCredentials: "L'indirizzo e-mail o la password non sono corretti.",
		msgNotMerchant:        "Questo account non ha accesso al portale esercenti.",
		msgInvalidInput:       "Inserisci un indirizzo e-mail e una password validi.",
		msgUnavailable:        "L'accesso è temporaneamente non disponibile. Riprova tra poco.",
		msgInvalidToken:       "Questo link non è valido o è scaduto. Richiedine uno nuovo.",
		msgWeakPassword:       "La password deve contenere almeno 8 caratteri.",
		msgRecoverySent:       "Se esiste un account per questo indirizzo, abbiamo inviato le istruzioni.",
	},
}

func lookup(locale string, key messageKey) string {
	return messages[email.NormalizeLocale(locale)][key]
}

// UserMessage turns a sign-in error into a short, localized sentence that
// never names the underlying cause.
func UserMessage(err error, locale string) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return lookup(locale, msgInvalidInput)
	case errors.Is(err, ErrNotMerchant):
		return lookup(locale, msgNotMerchant)
	case errors.Is(err, identity.ErrInvalidToken):
		return lookup(locale, msgInvalidToken)
	case errors.Is(err, identity.ErrWeakCredential):
		return lookup(locale, msgWeakPassword)
	case errors.Is(err, ErrInvalidCredentials):
		return lookup(locale, msgInvalidCredentials)
	default:
		return lookup(locale, msgUnavailable)
	}
}

// RecoverySentMessage is the single answer to every recovery request.
func RecoverySentMessage(locale string) string {
	return lookup(locale, msgRecoverySent)
}
