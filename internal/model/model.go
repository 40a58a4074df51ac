package model

// Qualified names under which the shared types are exported to the host
// namespace.
const (
	CustomerName        = "com.example.dapprototype.model.Customer"
	CustomerRequestName = "com.example.dapprototype.model.CustomerRequest"
	RulesResponseName   = "com.example.dapprototype.model.RulesResponse"
)

// Customer is one looked-up party of a transaction.
type Customer struct {
	CustomerID   string `json:"customerId"`
	CustomerName string `json:"customerName"`
}

// CustomerRequest is the intermediate record a conversion produces. It lists
// the customers to look up and, per customer id, the role tag naming the
// target operation the customer is written through.
//
// CustomerIDs is passed through as produced, duplicates included. A second
// tag for the same id replaces the first.
type CustomerRequest struct {
	ActivityID   string            `json:"activityId"`
	CustomerIDs  []string          `json:"customerIds"`
	CustomerTags map[string]string `json:"customerTags"`
}

// Tag records role for id, replacing any earlier tag, and appends id to the
// lookup list.
func (r *CustomerRequest) Tag(id, role string) {
	if r.CustomerTags == nil {
		r.CustomerTags = make(map[string]string)
	}
	r.CustomerIDs = append(r.CustomerIDs, id)
	r.CustomerTags[id] = role
}

// RulesResponse is the decision outcome attached by the rules engine.
type RulesResponse struct {
	Decision string `json:"decision"`
}
