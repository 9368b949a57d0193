package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/phpdave11/gofpdf"
	"go.uber.org/zap"

	"shuttle/internal/domain"
	"shuttle/internal/repositories"
	"shuttle/internal/utils"
)

// DocsService renders the booking e-ticket PDF.
type DocsService struct {
	Store  repositories.Store
	Loader func(ctx context.Context, bookingID string) (ticketData, error)
	Deps
}

type ticketData struct {
	BookingID     string
	Status        string
	PassengerName string
	Email         string
	Seats         int
	OriginCity    string
	Destination   string
	DepartureTime string
	PickupLat     float64
	PickupLng     float64
	DriverName    string
	OwnerID       string
}

// GenerateETicket returns the PDF and a download filename. Travellers may
// only fetch their own bookings; admins may fetch any.
func (s DocsService) GenerateETicket(ctx context.Context, rc domain.RequestContext, bookingID string) ([]byte, string, error) {
	data, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, "", err
	}
	if data.OwnerID != rc.UserID && !rc.Role.Can(domain.CapManageBookings) {
		return nil, "", domain.ForbiddenError{Msg: "booking belongs to another user", Err: domain.ErrNotOwner}
	}
	utils.LogEvent(ctx, s.log(), "docs", "generate_eticket", "e-ticket generated", zap.String("booking_id", bookingID))
	return buildETicketPDF(data)
}

func (s DocsService) load(ctx context.Context, bookingID string) (ticketData, error) {
	if s.Loader != nil {
		return s.Loader(ctx, bookingID)
	}
	var out ticketData
	b, err := s.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return out, err
	}
	j, err := s.Store.GetJourney(ctx, b.JourneyID, false)
	if err != nil {
		return out, err
	}
	cities, err := cityNames(ctx, s.Store)
	if err != nil {
		return out, err
	}

	out = ticketData{
		BookingID:     b.ID,
		Status:        string(b.Status),
		Seats:         b.Seats,
		OriginCity:    cities[j.OriginCityID],
		Destination:   cities[j.DestinationCityID],
		DepartureTime: utils.FormatDateTime(j.DepartureTime),
		PickupLat:     b.PickupLat,
		PickupLng:     b.PickupLng,
		OwnerID:       b.UserID,
	}
	if u, err := s.Store.GetUser(ctx, b.UserID); err == nil {
		out.PassengerName = u.Name
		out.Email = u.Email
	}
	if j.DriverID != nil {
		if d, err := s.Store.GetUser(ctx, *j.DriverID); err == nil {
			out.DriverName = d.Name
		}
	}
	return out, nil
}

func buildETicketPDF(d ticketData) ([]byte, string, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("E-Ticket", false)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "E-TICKET")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	lines := []string{
		fmt.Sprintf("Passenger    : %s", safe(d.PassengerName, "-")),
		fmt.Sprintf("Email        : %s", safe(d.Email, "-")),
		fmt.Sprintf("Route        : %s -> %s", safe(d.OriginCity, "-"), safe(d.Destination, "-")),
		fmt.Sprintf("Departure    : %s UTC", safe(d.DepartureTime, "-")),
		fmt.Sprintf("Seats        : %d", d.Seats),
		fmt.Sprintf("Pickup       : %.5f, %.5f", d.PickupLat, d.PickupLng),
		fmt.Sprintf("Driver       : %s", safe(d.DriverName, "to be assigned")),
		fmt.Sprintf("Status       : %s", strings.ToUpper(safe(d.Status, "-"))),
		fmt.Sprintf("Booking code : %s", safe(d.BookingID, "-")),
	}
	for _, line := range lines {
		pdf.Cell(0, 7, line)
		pdf.Ln(7)
	}

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "I", 10)
	pdf.MultiCell(0, 6, "Please be at the pickup point 15 minutes before departure and show this ticket to the driver.", "", "", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", domain.InternalError{Msg: "failed to render e-ticket", Err: err}
	}

	filename := fmt.Sprintf("ETICKET_%s_%s.pdf", utils.SafeFilenamePart(shortID(d.BookingID)), utils.SafeFilenamePart(d.PassengerName))
	return buf.Bytes(), filename, nil
}

func safe(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	return v
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
