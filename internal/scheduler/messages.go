package scheduler

import (
	"errors"
	"fmt"
	"time"
)

// Composition failures. A notification whose message cannot be rendered is
// dropped, not retried, so these surface in the audit trail rather than as
// API errors.
var (
	ErrNoRecipient    = errors.New("scheduler: payload has no recipient phone")
	ErrMissingPayload = errors.New("scheduler: payload is missing the referenced record")
)

// Customer-facing texts are in Spanish; the business operates in Spain and
// every contact record carries a Spanish mobile number.
var composers = map[EventType]func(Payload) (string, error){
	EventQuoteSent: func(p Payload) (string, error) {
		if p.Quote == nil {
			return "", ErrMissingPayload
		}
		return fmt.Sprintf("Hola %s, le enviamos el presupuesto %s por %.2f€. ¿Ha podido revisarlo? Quedamos a su disposición.",
			p.Contact.Name, p.Quote.Reference, p.Quote.Amount), nil
	},
	EventQuoteApproved: func(p Payload) (string, error) {
		if p.Quote == nil {
			return "", ErrMissingPayload
		}
		return fmt.Sprintf("¡Gracias %s! Hemos recibido la aprobación del presupuesto %s. En breve nos ponemos en marcha con su pedido.",
			p.Contact.Name, p.Quote.Reference), nil
	},
	EventMeetingReminder: func(p Payload) (string, error) {
		if p.Meeting == nil {
			return "", ErrMissingPayload
		}
		return fmt.Sprintf("Hola %s, le recordamos su reunión «%s» el %s.",
			p.Contact.Name, p.Meeting.Subject, formatDate(p.Meeting.StartsAt)), nil
	},
	EventLeadFollowUp: func(p Payload) (string, error) {
		return fmt.Sprintf("Hola %s, hace tiempo que no hablamos. ¿Podemos ayudarle con algún proyecto de merchandising?",
			p.Contact.Name), nil
	},
	EventTaskOverdue: func(p Payload) (string, error) {
		if p.Task == nil {
			return "", ErrMissingPayload
		}
		return fmt.Sprintf("Recordatorio: la tarea «%s» venció el %s y sigue pendiente.",
			p.Task.Title, formatDate(p.Task.DueAt)), nil
	},
	EventInvoiceIssued: func(p Payload) (string, error) {
		if p.Invoice == nil {
			return "", ErrMissingPayload
		}
		return fmt.Sprintf("Hola %s, le hemos emitido la factura %s por importe de %.2f€. Vencimiento: %s.",
			p.Contact.Name, p.Invoice.Number, p.Invoice.Amount, formatDate(p.Invoice.DueAt)), nil
	},
}

// composeMessage renders a pending notification into the destination phone
// number and the text to deliver.
func composeMessage(n Notification) (destination, body string, err error) {
	if n.Payload.Contact.Phone == "" {
		return "", "", ErrNoRecipient
	}
	compose, ok := composers[n.Type]
	if !ok {
		return "", "", fmt.Errorf("scheduler: no composer for event type %q", n.Type)
	}
	body, err = compose(n.Payload)
	if err != nil {
		return "", "", err
	}
	return n.Payload.Contact.Phone, body, nil
}

func formatDate(t time.Time) string {
	return t.Format("02/01/2006 15:04")
}
