package payment

import "github.com/vk/dapgrid/internal/model"

// PaymentRequestInfo is the decoded body of a payment assessment request.
type PaymentRequestInfo struct {
	ActivityID        string  `json:"activityId"`
	ActivityTimeStamp string  `json:"activityTimeStamp"`
	PayeeCustomerID   *string `json:"payeeCustomerId,omitempty"`
	PayerCustomerID   *string `json:"payerCustomerId,omitempty"`
}

// PaymentAssessmentData is the record a payment decision is made on.
type PaymentAssessmentData struct {
	RequestInfo   *PaymentRequestInfo  `json:"requestInfo"`
	PayeeCustomer *model.Customer      `json:"payeeCustomer,omitempty"`
	PayerCustomer *model.Customer      `json:"payerCustomer,omitempty"`
	RulesResponse *model.RulesResponse `json:"rulesResponse,omitempty"`
}

func (d *PaymentAssessmentData) SetRequestInfo(info *PaymentRequestInfo) { d.RequestInfo = info }

func (d *PaymentAssessmentData) SetPayeeCustomer(c *model.Customer) { d.PayeeCustomer = c }

func (d *PaymentAssessmentData) SetPayerCustomer(c *model.Customer) { d.PayerCustomer = c }

func (d *PaymentAssessmentData) SetRulesResponse(r *model.RulesResponse) { d.RulesResponse = r }

func (d *PaymentAssessmentData) GetRulesResponse() *model.RulesResponse { return d.RulesResponse }

// GetActivityID lets the host label events without knowing this type.
func (i *PaymentRequestInfo) GetActivityID() string { return i.ActivityID }
