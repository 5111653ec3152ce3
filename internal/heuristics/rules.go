package heuristics

import (
	"regexp"
	"strings"
)

// Input is the normalized view of an inbound email that rules match on.
type Input struct {
	From    string
	Subject string
	Body    string
}

// Rule is one named predicate over an inbound email. Rules are evaluated
// in order; the first match wins. Keeping them as data makes each rule
// unit-testable independently of the pipeline.
type Rule struct {
	Name  string
	Match func(in Input) bool
}

// FirstMatch evaluates rules in order and returns the name of the first
// rule that matches.
func FirstMatch(rules []Rule, in Input) (string, bool) {
	norm := Input{
		From:    normalize(in.From),
		Subject: normalize(in.Subject),
		Body:    normalize(in.Body),
	}
	for _, r := range rules {
		if r.Match(norm) {
			return r.Name, true
		}
	}
	return "", false
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return whitespaceRe.ReplaceAllString(s, " ")
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// SystemNotificationRules match machine-generated mail that must never
// be answered: bounces, delivery reports, calendar invitations.
var SystemNotificationRules = []Rule{
	{
		Name: "bounce_sender",
		Match: func(in Input) bool {
			return containsAny(in.From, "mailer-daemon@", "postmaster@", "no-reply@bounce", "bounce@", "bounces@")
		},
	},
	{
		Name: "delivery_report",
		Match: func(in Input) bool {
			return containsAny(in.Subject,
				"delivery status notification", "mail delivery failed",
				"undelivered mail returned", "falha na entrega", "devolução de mensagem")
		},
	},
	{
		Name: "calendar_invite",
		Match: func(in Input) bool {
			return containsAny(in.Subject, "convite:", "invitation:") && containsAny(in.Body, "icalendar", "begin:vcalendar")
		},
	},
}

// AutoResponderRules match out-of-office and vacation auto-replies.
// These are counted as handled without spending any credit.
var AutoResponderRules = []Rule{
	{
		Name: "out_of_office_subject",
		Match: func(in Input) bool {
			return containsAny(in.Subject,
				"out of office", "automatic reply", "auto-reply", "autoreply",
				"resposta automática", "ausência temporária", "fora do escritório",
				"respuesta automática", "fuera de la oficina")
		},
	},
	{
		Name: "vacation_body",
		Match: func(in Input) bool {
			return containsAny(in.Body,
				"estarei ausente", "estou de férias", "i am currently out of",
				"i will be out of the office", "não estarei disponível",
				"responderei assim que retornar")
		},
	},
}

// AcknowledgmentRules match short customer replies that close the loop
// ("thanks, got it") and need no automated response. Bodies longer than
// ackMaxLen never match, so a thank-you followed by a new question still
// gets processed.
const ackMaxLen = 160

var AcknowledgmentRules = []Rule{
	{
		Name: "short_thanks",
		Match: func(in Input) bool {
			if len(in.Body) > ackMaxLen {
				return false
			}
			return containsAny(in.Body,
				"obrigado", "obrigada", "obg", "valeu", "thank you", "thanks", "thx",
				"gracias", "agradecido", "agradecida")
		},
	},
	{
		Name: "short_received",
		Match: func(in Input) bool {
			if len(in.Body) > ackMaxLen {
				return false
			}
			return containsAny(in.Body,
				"recebi", "chegou", "tudo certo", "deu certo", "entendido",
				"perfeito", "got it", "received it", "all good", "recibido")
		},
	},
	{
		Name: "bare_ok",
		Match: func(in Input) bool {
			body := strings.Trim(in.Body, " .!?,")
			switch body {
			case "ok", "okay", "blz", "beleza", "certo", "sim", "👍":
				return true
			}
			return false
		},
	},
}

// SpamRules are the zero-cost pattern pass that runs before any credit
// is reserved. The AI classifier is the backstop for what slips through.
var SpamRules = []Rule{
	{
		Name: "marketing_blast",
		Match: func(in Input) bool {
			return containsAny(in.Body,
				"click here to unsubscribe", "clique aqui para descadastrar",
				"special offer just for you", "limited time offer", "act now",
				"100% free", "make money fast", "work from home opportunity")
		},
	},
	{
		Name: "crypto_scam",
		Match: func(in Input) bool {
			return containsAny(in.Body,
				"bitcoin investment", "crypto profits", "guaranteed returns",
				"double your investment", "forex signals")
		},
	},
	{
		Name: "seo_cold_outreach",
		Match: func(in Input) bool {
			return containsAny(in.Body,
				"improve your google ranking", "seo services", "increase your website traffic",
				"backlinks package", "primeira página do google")
		},
	},
	{
		Name: "pharma",
		Match: func(in Input) bool {
			return containsAny(in.Body, "viagra", "cialis", "weight loss pills")
		},
	},
	{
		Name: "prize_scam",
		Match: func(in Input) bool {
			return containsAny(in.Subject, "you have won", "você ganhou", "congratulations winner", "prêmio exclusivo")
		},
	},
}

// ForwardEchoRules match the shop's own forwarded copies bouncing back
// into the monitored inbox.
var ForwardEchoRules = []Rule{
	{
		Name: "forwarded_marker",
		Match: func(in Input) bool {
			return strings.HasPrefix(in.Body, "---------- forwarded message") ||
				strings.HasPrefix(in.Body, "---------- mensagem encaminhada") ||
				strings.HasPrefix(in.Subject, "fwd: [atendido]") ||
				strings.HasPrefix(in.Subject, "enc: [atendido]")
		},
	},
}

// FrustrationRules detect customers threatening escalation or showing
// strong dissatisfaction; matches feed the responder's retention flow.
var FrustrationRules = []Rule{
	{
		Name: "legal_threat",
		Match: func(in Input) bool {
			return containsAny(in.Body,
				"procon", "reclame aqui", "advogado", "processo judicial",
				"small claims", "lawyer", "legal action", "consumidor.gov")
		},
	},
	{
		Name: "strong_dissatisfaction",
		Match: func(in Input) bool {
			return containsAny(in.Body,
				"absurdo", "inadmissível", "vergonha", "péssimo atendimento",
				"nunca mais compro", "quero meu dinheiro de volta agora",
				"worst experience", "never buying again", "this is a scam",
				"isso é um golpe")
		},
	},
}

// IsSystemNotification reports whether the email is machine-generated
// (bounce, delivery report, calendar invite).
func IsSystemNotification(from, subject, body string) bool {
	_, ok := FirstMatch(SystemNotificationRules, Input{From: from, Subject: subject, Body: body})
	return ok
}

// IsAutoResponder reports whether the email is an out-of-office or
// vacation auto-reply.
func IsAutoResponder(subject, body string) bool {
	_, ok := FirstMatch(AutoResponderRules, Input{Subject: subject, Body: body})
	return ok
}

// IsAcknowledgment reports whether the email is a short thank-you that
// needs no reply.
func IsAcknowledgment(body string) bool {
	_, ok := FirstMatch(AcknowledgmentRules, Input{Body: body})
	return ok
}

// LooksLikeSpam is the zero-cost spam pass. It returns the matched rule
// name for the processing event trail.
func LooksLikeSpam(from, subject, body string) (string, bool) {
	return FirstMatch(SpamRules, Input{From: from, Subject: subject, Body: body})
}

// IsForwardingEcho reports whether the email is an echo of the shop's
// own forwarded mail.
func IsForwardingEcho(subject, body string) bool {
	_, ok := FirstMatch(ForwardEchoRules, Input{Subject: subject, Body: body})
	return ok
}

// IsFrustrated reports whether the customer shows strong dissatisfaction
// or threatens escalation.
func IsFrustrated(body string) bool {
	_, ok := FirstMatch(FrustrationRules, Input{Body: body})
	return ok
}
