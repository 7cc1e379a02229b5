package rbac

// Canonical permission names. The seed program keeps the permissions table in
// step with this list.
const (
	PermPatientsView       = "patients.view"
	PermPatientsManage     = "patients.manage"
	PermAppointmentsView   = "appointments.view"
	PermAppointmentsManage = "appointments.manage"
	PermLabOrdersView      = "lab_orders.view"
	PermLabOrdersCreate    = "lab_orders.create"
	PermBillingView        = "billing.view"
	PermBillingManage      = "billing.manage"
	PermDocumentsView      = "documents.view"
	PermDocumentsPrint     = "documents.print"
	PermUsersView          = "users.view"
	PermUsersManage        = "users.manage"
	PermRolesView          = "roles.view"
	PermRolesManage        = "roles.manage"
	PermAuditView          = "audit.view"
)

// LegacyBundles maps free-text legacy role labels to their default permission
// bundles. Users without a resolvable role assignment fall back to these;
// unknown labels resolve to nothing.
func LegacyBundles() map[string]PermissionSet {
	return map[string]PermissionSet{
		"admin": NewPermissionSet(
			PermPatientsView, PermPatientsManage,
			PermAppointmentsView, PermAppointmentsManage,
			PermLabOrdersView, PermLabOrdersCreate,
			PermBillingView, PermBillingManage,
			PermDocumentsView, PermDocumentsPrint,
			PermUsersView, PermUsersManage,
			PermRolesView, PermRolesManage,
			PermAuditView,
		),
		"doctor": NewPermissionSet(
			PermPatientsView, PermPatientsManage,
			PermAppointmentsView, PermAppointmentsManage,
			PermLabOrdersView, PermLabOrdersCreate,
			PermDocumentsView, PermDocumentsPrint,
		),
		"nurse": NewPermissionSet(
			PermPatientsView,
			PermAppointmentsView, PermAppointmentsManage,
			PermLabOrdersView,
			PermDocumentsView,
		),
		"receptionist": NewPermissionSet(
			PermPatientsView,
			PermAppointmentsView, PermAppointmentsManage,
			PermDocumentsView, PermDocumentsPrint,
		),
		"lab_technician": NewPermissionSet(
			PermPatientsView,
			PermLabOrdersView, PermLabOrdersCreate,
		),
		"billing_clerk": NewPermissionSet(
			PermPatientsView,
			PermBillingView, PermBillingManage,
			PermDocumentsView, PermDocumentsPrint,
		),
	}
}
