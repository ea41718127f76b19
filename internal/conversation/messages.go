package conversation

import (
	"fmt"
	"strings"

	"github.com/medagenda/citas-ai-platform/internal/chatapp"
)

// Interactive button ids the engine understands.
const (
	ButtonConfirmBooking = "confirm_booking"
	ButtonCancelBooking  = "cancel_booking"
)

var confirmButtons = []chatapp.Button{
	{ID: ButtonConfirmBooking, Title: "✅ Confirmar"},
	{ID: ButtonCancelBooking, Title: "❌ Cancelar"},
}

const (
	msgContactAdmin = "Lo siento, en este momento no puedo consultar la agenda. Por favor contacta al administrador del consultorio."

	msgNoSlots = "Lo siento, no encontré horarios disponibles en los próximos 7 días para esa fecha. ¿Te gustaría intentar con otra fecha?"

	msgDraftCancelled = "De acuerdo, cancelé la solicitud. Si quieres agendar en otro momento, aquí estoy. 😊"

	msgNothingPending = "No tengo ninguna cita pendiente de confirmar. ¿Te gustaría agendar una?"

	msgImageUnsupported = "Por ahora solo puedo leer mensajes de texto. ¿Me cuentas por escrito en qué te ayudo?"

	msgInvalidOption = "No reconocí esa opción. Responde con el número del horario que prefieras, o escribe \"cancelar\"."
)

func confirmationBody(name, display string) string {
	return fmt.Sprintf("%s, tengo disponible el %s. ¿Confirmo tu cita?", firstName(name), display)
}

func alternativesBody(sameDate bool, options []SlotOption) string {
	var b strings.Builder
	if sameDate {
		b.WriteString("Ese horario ya está ocupado, pero ese mismo día tengo:\n\n")
	} else {
		b.WriteString("No tengo espacio ese día. Los horarios más próximos son:\n\n")
	}
	for i, opt := range options {
		fmt.Fprintf(&b, "%d. %s\n", i+1, opt.Display)
	}
	b.WriteString("\nResponde con el número del horario que prefieras, o escribe \"cancelar\".")
	return b.String()
}

func checkoutBody(url string, amount int64, currency string) string {
	price := formatAmount(amount, currency)
	return fmt.Sprintf("¡Perfecto! Para confirmar tu cita realiza el pago de %s aquí:\n\n%s\n\nEl enlace vence en 30 minutos. En cuanto recibamos tu pago, tu cita queda confirmada. ✅", price, url)
}

// paymentsMisconfigBody translates the tenant's configuration gap into the
// message the patient sees. Never a generic failure.
func paymentsMisconfigBody(reason string) string {
	switch reason {
	case "no_connected_account":
		return "El consultorio aún no ha configurado su cuenta de pagos. Por favor contacta directamente al consultorio para confirmar tu cita."
	case "onboarding_incomplete":
		return "El consultorio aún no ha terminado de configurar los pagos en línea. Por favor contacta directamente al consultorio para confirmar tu cita."
	case "charges_disabled":
		return "Los pagos en línea del consultorio están temporalmente deshabilitados. Por favor contacta directamente al consultorio para confirmar tu cita."
	default:
		return "Los pagos en línea no están disponibles por el momento. Por favor contacta directamente al consultorio para confirmar tu cita."
	}
}

func formatAmount(cents int64, currency string) string {
	whole := cents / 100
	frac := cents % 100
	return fmt.Sprintf("$%d.%02d %s", whole, frac, strings.ToUpper(currency))
}

func firstName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Hola"
	}
	if idx := strings.IndexByte(name, ' '); idx > 0 {
		return name[:idx]
	}
	return name
}
