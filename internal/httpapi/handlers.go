package httpapi

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"salus.clinic/internal/audit"
	"salus.clinic/internal/fault"
	"salus.clinic/internal/tenancy"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type patientResponse struct {
	ID         string    `json:"id"`
	FullName   string    `json:"full_name"`
	NationalID string    `json:"national_id,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Email      string    `json:"email,omitempty"`
	Status     string    `json:"status"`
	Notes      string    `json:"notes,omitempty"`
	IsActive   bool      `json:"is_active"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type appointmentResponse struct {
	ID        string     `json:"id"`
	PatientID string     `json:"patient_id"`
	StaffID   string     `json:"staff_id,omitempty"`
	Status    string     `json:"status"`
	Category  string     `json:"category"`
	StartsAt  *time.Time `json:"starts_at,omitempty"`
	EndsAt    *time.Time `json:"ends_at,omitempty"`
	Notes     string     `json:"notes,omitempty"`
	IsActive  bool       `json:"is_active"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (a *API) getProfile(w http.ResponseWriter, r *http.Request) {
	_, authz, err := requestScope(r)
	if err != nil {
		respondFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile_id":      authz.ProfileID,
		"caller_id":       authz.CallerID,
		"organization_id": authz.TenantID,
		"role":            authz.Role,
	})
}

// revokeToken invalidates the presented token. The jti lands in
// revoked_tokens, which the resolver checks on every request.
func (a *API) revokeToken(w http.ResponseWriter, r *http.Request) {
	sess, authz, err := requestScope(r)
	if err != nil {
		respondFault(w, err)
		return
	}
	if authz.TokenID == "" {
		respondFault(w, fault.InvalidArgument("token carries no id to revoke"))
		return
	}
	_, err = sess.ExecContext(r.Context(),
		`insert into revoked_tokens(jti) values ($1) on conflict (jti) do nothing`,
		authz.TokenID,
	)
	if err != nil {
		respondFault(w, fault.Internal("revoke token", err))
		return
	}
	if err := audit.Record(r.Context(), sess, audit.Entry{
		Action:   "auth.revoke",
		Resource: "token",
	}); err != nil {
		a.log.Warn().Err(err).Msg("audit revoke")
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
}

// No where clause on organization_id anywhere below. The session scope plus
// the row-level policies restrict every query to the caller's tenant.

func (a *API) listPatients(w http.ResponseWriter, r *http.Request) {
	sess, authz, err := requestScope(r)
	if err != nil {
		respondFault(w, err)
		return
	}
	if err := tenancy.RequireRole(authz, tenancy.RoleTherapist, tenancy.RoleIntern); err != nil {
		respondFault(w, err)
		return
	}

	limit, offset := pagination(r)
	rows, err := sess.QueryContext(r.Context(), `
		select id, full_name, national_id, phone, email, status, notes, is_active, updated_at
		from patients
		where is_active = true
		order by full_name asc, id asc
		limit $1 offset $2
	`, limit, offset)
	if err != nil {
		respondFault(w, fault.Internal("list patients", err))
		return
	}
	defer rows.Close()

	patients := make([]patientResponse, 0, limit)
	for rows.Next() {
		var p patientResponse
		if err := rows.Scan(&p.ID, &p.FullName, &p.NationalID, &p.Phone, &p.Email,
			&p.Status, &p.Notes, &p.IsActive, &p.UpdatedAt); err != nil {
			respondFault(w, fault.Internal("scan patient", err))
			return
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		respondFault(w, fault.Internal("list patients", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patients": patients})
}

func (a *API) getPatient(w http.ResponseWriter, r *http.Request) {
	sess, authz, err := requestScope(r)
	if err != nil {
		respondFault(w, err)
		return
	}
	if err := tenancy.RequireRole(authz, tenancy.RoleTherapist, tenancy.RoleIntern); err != nil {
		respondFault(w, err)
		return
	}

	id := r.PathValue("id")
	var p patientResponse
	err = sess.QueryRowContext(r.Context(), `
		select id, full_name, national_id, phone, email, status, notes, is_active, updated_at
		from patients where id = $1
	`, id).Scan(&p.ID, &p.FullName, &p.NationalID, &p.Phone, &p.Email,
		&p.Status, &p.Notes, &p.IsActive, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		respondFault(w, fault.NotFound("patient not found"))
		return
	}
	if err != nil {
		respondFault(w, fault.Internal("load patient", err))
		return
	}

	if err := audit.Record(r.Context(), sess, audit.Entry{
		Action:     "patient.view",
		Resource:   "patient",
		ResourceID: p.ID,
	}); err != nil {
		a.log.Warn().Err(err).Msg("audit patient view")
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) listAppointments(w http.ResponseWriter, r *http.Request) {
	sess, authz, err := requestScope(r)
	if err != nil {
		respondFault(w, err)
		return
	}
	if err := tenancy.RequireRole(authz, tenancy.RoleTherapist, tenancy.RoleIntern); err != nil {
		respondFault(w, err)
		return
	}

	limit, offset := pagination(r)
	from, to, err := timeWindow(r)
	if err != nil {
		respondFault(w, err)
		return
	}

	rows, err := sess.QueryContext(r.Context(), `
		select id, patient_id, coalesce(staff_id, ''), status, category, starts_at, ends_at, notes, is_active, updated_at
		from appointments
		where is_active = true
		  and ($1::timestamptz is null or starts_at >= $1)
		  and ($2::timestamptz is null or starts_at < $2)
		order by starts_at asc nulls last, id asc
		limit $3 offset $4
	`, from, to, limit, offset)
	if err != nil {
		respondFault(w, fault.Internal("list appointments", err))
		return
	}
	defer rows.Close()

	appts := make([]appointmentResponse, 0, limit)
	for rows.Next() {
		var ap appointmentResponse
		if err := rows.Scan(&ap.ID, &ap.PatientID, &ap.StaffID, &ap.Status, &ap.Category,
			&ap.StartsAt, &ap.EndsAt, &ap.Notes, &ap.IsActive, &ap.UpdatedAt); err != nil {
			respondFault(w, fault.Internal("scan appointment", err))
			return
		}
		appts = append(appts, ap)
	}
	if err := rows.Err(); err != nil {
		respondFault(w, fault.Internal("list appointments", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appts})
}

func (a *API) getAppointment(w http.ResponseWriter, r *http.Request) {
	sess, authz, err := requestScope(r)
	if err != nil {
		respondFault(w, err)
		return
	}
	if err := tenancy.RequireRole(authz, tenancy.RoleTherapist, tenancy.RoleIntern); err != nil {
		respondFault(w, err)
		return
	}

	id := r.PathValue("id")
	var ap appointmentResponse
	err = sess.QueryRowContext(r.Context(), `
		select id, patient_id, coalesce(staff_id, ''), status, category, starts_at, ends_at, notes, is_active, updated_at
		from appointments where id = $1
	`, id).Scan(&ap.ID, &ap.PatientID, &ap.StaffID, &ap.Status, &ap.Category,
		&ap.StartsAt, &ap.EndsAt, &ap.Notes, &ap.IsActive, &ap.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		respondFault(w, fault.NotFound("appointment not found"))
		return
	}
	if err != nil {
		respondFault(w, fault.Internal("load appointment", err))
		return
	}

	if err := audit.Record(r.Context(), sess, audit.Entry{
		Action:     "appointment.view",
		Resource:   "appointment",
		ResourceID: ap.ID,
	}); err != nil {
		a.log.Warn().Err(err).Msg("audit appointment view")
	}
	writeJSON(w, http.StatusOK, ap)
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, maxPageSize)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			offset = n
		}
	}
	return limit, offset
}

func timeWindow(r *http.Request) (from, to *time.Time, err error) {
	if v := r.URL.Query().Get("from"); v != "" {
		t, perr := time.Parse(time.RFC3339, v)
		if perr != nil {
			return nil, nil, fault.InvalidArgument("from must be RFC3339")
		}
		from = &t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, perr := time.Parse(time.RFC3339, v)
		if perr != nil {
			return nil, nil, fault.InvalidArgument("to must be RFC3339")
		}
		to = &t
	}
	return from, to, nil
}
