package payment

import (
	"errors"

	"github.com/vk/dapgrid/internal/model"
)

// Role tags emitted by the mapper. Each one names the PaymentAssessmentData
// operation declared for it in the bundle manifest.
const (
	RolePayee = "setPayeeCustomer"
	RolePayer = "setPayerCustomer"
)

// PaymentRequestMapper converts a payment request into the customer lookup
// it implies.
type PaymentRequestMapper struct{}

// Instance is the mapper singleton published to namespaces as INSTANCE.
var Instance = &PaymentRequestMapper{}

// ToCustomerRequest lists the payee and payer ids, in that order, and tags
// each with its role. Absent or null ids are left out; empty ones are kept.
func (m *PaymentRequestMapper) ToCustomerRequest(info *PaymentRequestInfo) (*model.CustomerRequest, error) {
	if info == nil {
		return nil, errors.New("payment request info is nil")
	}

	req := &model.CustomerRequest{
		ActivityID:   info.ActivityID,
		CustomerIDs:  []string{},
		CustomerTags: map[string]string{},
	}
	if info.PayeeCustomerID != nil {
		req.Tag(*info.PayeeCustomerID, RolePayee)
	}
	if info.PayerCustomerID != nil {
		req.Tag(*info.PayerCustomerID, RolePayer)
	}
	return req, nil
}
