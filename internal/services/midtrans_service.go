package services

import (
	"context"
	"strings"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/iris"
	"github.com/midtrans/midtrans-go/snap"

	"learnhub_payments/internal/apperrors"
	"learnhub_payments/internal/models"
)

// MidtransService opens Snap checkouts and sends Iris payouts
type MidtransService struct {
	SnapClient snap.Client
	IrisClient iris.Client
}

func NewMidtransService(serverKey, irisKey string, production bool) *MidtransService {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}

	var s snap.Client
	s.New(serverKey, env)

	var i iris.Client
	i.New(irisKey, env)

	return &MidtransService{
		SnapClient: s,
		IrisClient: i,
	}
}

func (s *MidtransService) Provider() models.PaymentGateway {
	return models.PaymentGatewayMidtrans
}

// snapRequest refuses fractional amounts; Snap gross amounts are whole units
func snapRequest(req CreateOrderRequest) (*snap.Request, error) {
	if !req.Amount.Equal(req.Amount.Truncate(0)) {
		return nil, apperrors.Errorf(apperrors.InvalidAmount, "midtrans amounts must be whole units, got %s", req.Amount.String())
	}
	r := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.Reference,
			GrossAmt: req.Amount.IntPart(),
		},
	}
	if req.PayerEmail != "" {
		r.CustomerDetail = &midtrans.CustomerDetails{Email: req.PayerEmail}
	}
	return r, nil
}

// CreateOrder opens a Snap transaction. Snap order ids are merchant chosen,
// so the reference doubles as the gateway order id.
func (s *MidtransService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*GatewayOrder, error) {
	r, err := snapRequest(req)
	if err != nil {
		return nil, err
	}
	resp, merr := s.SnapClient.CreateTransaction(r)
	if merr != nil {
		return nil, apperrors.E(apperrors.GatewayFailure, "midtrans create transaction", merr)
	}
	return &GatewayOrder{
		GatewayOrderID: req.Reference,
		PaymentLink:    resp.RedirectURL,
	}, nil
}

func irisPayout(t PayoutTransfer) iris.CreatePayoutReq {
	detail := iris.CreatePayoutDetailReq{
		BeneficiaryName:    t.Beneficiary.AccountHolder,
		BeneficiaryAccount: t.Beneficiary.AccountNumber,
		BeneficiaryBank:    strings.ToLower(t.Beneficiary.BankCode),
		BeneficiaryEmail:   t.Beneficiary.Email,
		Amount:             t.Amount.StringFixed(2),
		Notes:              t.Notes,
	}
	if t.Method == models.PayoutMethodUPI {
		detail.BeneficiaryAccount = t.Beneficiary.UPIID
		detail.BeneficiaryBank = "upi"
	}
	return iris.CreatePayoutReq{Payouts: []iris.CreatePayoutDetailReq{detail}}
}

func irisResult(status, referenceNo string) (*PayoutResult, error) {
	switch strings.ToLower(status) {
	case "failed", "rejected":
		return nil, apperrors.Errorf(apperrors.GatewayFailure, "iris payout %s: %s", referenceNo, status)
	case "completed":
		return &PayoutResult{TransactionID: referenceNo, Status: status, Final: true}, nil
	}
	return &PayoutResult{TransactionID: referenceNo, Status: status}, nil
}

// CreatePayout sends one Iris payout
func (s *MidtransService) CreatePayout(ctx context.Context, t PayoutTransfer) (*PayoutResult, error) {
	resp, err := s.IrisClient.CreatePayout(irisPayout(t))
	if err != nil {
		return nil, apperrors.E(apperrors.GatewayFailure, "iris create payout", err)
	}
	if len(resp.Payouts) == 0 {
		return nil, apperrors.E(apperrors.GatewayFailure, "iris returned no payouts")
	}
	return irisResult(resp.Payouts[0].Status, resp.Payouts[0].ReferenceNo)
}
