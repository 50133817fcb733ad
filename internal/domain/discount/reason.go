package discount

// Reason is a machine-readable code explaining why a rule did not apply.
type Reason string

// Eligibility reasons.
const (
	ReasonInactive          Reason = "inactive"
	ReasonNotStarted        Reason = "not_started"
	ReasonExpired           Reason = "expired"
	ReasonEventNotFound     Reason = "event_not_found"
	ReasonEventNotActive    Reason = "event_not_active"
	ReasonCodeNotEntered    Reason = "code_not_entered"
	ReasonNotApplicable     Reason = "not_applicable"
	ReasonMinimumNotMet     Reason = "minimum_not_met"
	ReasonFirstOrderOnly    Reason = "first_order_only"
	ReasonEmailDomain       Reason = "email_domain_not_allowed"
	ReasonUsageLimitReached Reason = "usage_limit_reached"
	ReasonCustomerLimit     Reason = "customer_limit_reached"
	ReasonCustomerRequired  Reason = "customer_required"
	ReasonIPLimit           Reason = "ip_limit_reached"
	ReasonCodeNotFound      Reason = "code_not_found"
)

// Conflict resolution reasons.
const (
	ReasonCodeLimit          Reason = "code_limit"
	ReasonNonStackable       Reason = "non_stackable_conflict"
	ReasonLinesClaimed       Reason = "lines_claimed"
	ReasonShippingDiscounted Reason = "shipping_already_discounted"
	ReasonNoDiscount         Reason = "no_discount"
)
