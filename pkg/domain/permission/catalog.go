package permission

// Actions.
const (
	ActionRead    = "read"
	ActionWrite   = "write"
	ActionCreate  = "create"
	ActionEdit    = "edit"
	ActionDelete  = "delete"
	ActionSubmit  = "submit"
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionPrint   = "print"
	ActionSend    = "send"
	ActionExport  = "export"
	ActionImport  = "import"
)

// Resources.
const (
	ResourceOrg                 = "org"
	ResourceLocations           = "locations"
	ResourceDepartments         = "departments"
	ResourceStaff               = "staff"
	ResourceRoles               = "roles"
	ResourcePermissions         = "permissions"
	ResourcePatients            = "patients"
	ResourcePatientDemographics = "patient_demographics"
	ResourcePatientDocuments    = "patient_documents"
	ResourcePatientHistory      = "patient_history"
	ResourceAppointments        = "appointments"
	ResourceEncounters          = "encounters"
	ResourceObservations        = "observations"
	ResourceDiagnoses           = "diagnoses"
	ResourceProcedures          = "procedures"
	ResourceMedications         = "medications"
	ResourceAllergies           = "allergies"
	ResourceImmunizations       = "immunizations"
	ResourceLabOrders           = "lab_orders"
	ResourceLabResults          = "lab_results"
	ResourceImagingOrders       = "imaging_orders"
	ResourceImagingResults      = "imaging_results"
	ResourceClinicalNotes       = "clinical_notes"
	ResourcePrescriptions       = "prescriptions"
	ResourceReports             = "reports"
	ResourceForms               = "forms"
	ResourceTemplates           = "templates"
	ResourceBilling             = "billing"
	ResourceInvoices            = "invoices"
	ResourcePayments            = "payments"
	ResourceInsurance           = "insurance"
	ResourceClaims              = "claims"
	ResourceAudit               = "audit"
	ResourceSettings            = "settings"
	ResourceIntegrations        = "integrations"
	ResourceNotifications       = "notifications"
	ResourcePlatform            = "platform"
)

// Permissions checked by the authorization API itself.
const (
	RolesRead        Permission = "roles:read"
	RolesCreate      Permission = "roles:create"
	RolesEdit        Permission = "roles:edit"
	RolesDelete      Permission = "roles:delete"
	StaffRead        Permission = "staff:read"
	StaffEdit        Permission = "staff:edit"
	PermissionsRead  Permission = "permissions:read"
	PermissionsAudit Permission = "audit:read"
)

// Actions returns every catalogued action in display order.
func Actions() []string {
	return []string{
		ActionRead, ActionWrite, ActionCreate, ActionEdit, ActionDelete, ActionSubmit,
		ActionApprove, ActionReject, ActionPrint, ActionSend, ActionExport, ActionImport,
	}
}

// Resources returns every catalogued resource in display order.
func Resources() []string {
	return []string{
		ResourceOrg, ResourceLocations, ResourceDepartments, ResourceStaff, ResourceRoles,
		ResourcePermissions, ResourcePatients, ResourcePatientDemographics,
		ResourcePatientDocuments, ResourcePatientHistory, ResourceAppointments,
		ResourceEncounters, ResourceObservations, ResourceDiagnoses, ResourceProcedures,
		ResourceMedications, ResourceAllergies, ResourceImmunizations, ResourceLabOrders,
		ResourceLabResults, ResourceImagingOrders, ResourceImagingResults,
		ResourceClinicalNotes, ResourcePrescriptions, ResourceReports, ResourceForms,
		ResourceTemplates, ResourceBilling, ResourceInvoices, ResourcePayments,
		ResourceInsurance, ResourceClaims, ResourceAudit, ResourceSettings,
		ResourceIntegrations, ResourceNotifications, ResourcePlatform,
	}
}

// Group names.
const (
	GroupPatientsFull     = "PATIENTS_FULL"
	GroupPatientsClinical = "PATIENTS_CLINICAL"
	GroupAppointmentsFull = "APPOINTMENTS_FULL"
	GroupBillingFull      = "BILLING_FULL"
	GroupReportsView      = "REPORTS_VIEW"
	GroupAdminOrg         = "ADMIN_ORG"
	GroupAdminFull        = "ADMIN_FULL"
)

var groups = map[string][]Permission{
	GroupPatientsFull: {
		"patients:read", "patients:write", "patients:create", "patients:edit",
		"patients:delete", "patients:print", "patients:send", "patients:export",
	},
	GroupPatientsClinical: {
		"patients:read", "patients:write", "patients:create", "patients:edit",
		"encounters:*", "observations:*", "diagnoses:*", "procedures:*",
		"medications:*", "allergies:*", "clinical_notes:*", "prescriptions:*",
	},
	GroupAppointmentsFull: {
		"appointments:read", "appointments:create", "appointments:edit",
		"appointments:delete", "appointments:send",
	},
	GroupBillingFull: {
		"billing:read", "billing:create", "billing:edit", "invoices:*",
		"payments:*", "insurance:read", "claims:*",
	},
	GroupReportsView: {
		"reports:read", "reports:print", "reports:export", "audit:read",
	},
	GroupAdminOrg: {
		"org:read", "org:edit", "locations:*", "departments:*", "staff:*",
		"roles:*", "permissions:read", "settings:*", "audit:read",
	},
	GroupAdminFull: {
		"org:*", "locations:*", "departments:*", "staff:*", "roles:*",
		"permissions:*", "settings:*", "audit:*", "integrations:*",
	},
}

// Group returns a copy of a named permission bundle.
func Group(name string) ([]Permission, bool) {
	perms, ok := groups[name]
	if !ok {
		return nil, false
	}
	return append([]Permission(nil), perms...), true
}

// GroupNames lists the named bundles.
func GroupNames() []string {
	return []string{
		GroupPatientsFull, GroupPatientsClinical, GroupAppointmentsFull,
		GroupBillingFull, GroupReportsView, GroupAdminOrg, GroupAdminFull,
	}
}

// Matrix is a resource by action grid of what a holder can do.
type Matrix map[string]map[string]bool

// BuildMatrix evaluates every catalogued resource/action pair against held.
func BuildMatrix(held []Permission) Matrix {
	m := make(Matrix, len(Resources()))
	for _, res := range Resources() {
		row := make(map[string]bool, len(Actions()))
		for _, act := range Actions() {
			row[act] = HasPermission(held, Permission(res+":"+act))
		}
		m[res] = row
	}
	return m
}
