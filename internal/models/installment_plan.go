package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InstallmentFrequency string

const (
	FrequencyWeekly   InstallmentFrequency = "weekly"
	FrequencyBiweekly InstallmentFrequency = "biweekly"
	FrequencyMonthly  InstallmentFrequency = "monthly"
)

func (f InstallmentFrequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return true
	}
	return false
}

type PlanStatus string

const (
	PlanStatusActive    PlanStatus = "active"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusDefaulted PlanStatus = "defaulted"
	PlanStatusCancelled PlanStatus = "cancelled"
)

type InstallmentStatus string

const (
	InstallmentStatusPending InstallmentStatus = "pending"
	InstallmentStatusPaid    InstallmentStatus = "paid"
	InstallmentStatusOverdue InstallmentStatus = "overdue"
)

// InstallmentPlan splits a purchase into scheduled sub-payments.
// Summary columns are a snapshot written by Recompute; the installment
// rows are the source of truth.
type InstallmentPlan struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	EnrollmentID string        `gorm:"type:varchar(128);index;not null" json:"enrollment_id"`
	StudentID    string        `gorm:"type:varchar(128);index;not null" json:"student_id"`
	TeacherID    string        `gorm:"type:varchar(128);index;not null" json:"teacher_id"`
	BatchID      string        `gorm:"type:varchar(128);not null" json:"batch_id"`
	Source       PaymentSource `gorm:"type:varchar(20);not null" json:"source"`
	Currency     string        `gorm:"type:varchar(3);not null" json:"currency"`

	TotalAmount     decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"total_amount"`
	DownPayment     decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"down_payment"`
	RemainingAmount decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"remaining_amount"`
	InterestAmount  decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"interest_amount"`

	NumberOfInstallments int                  `gorm:"not null" json:"number_of_installments"`
	InstallmentAmount    decimal.Decimal      `gorm:"type:numeric(15,2);not null" json:"installment_amount"`
	Frequency            InstallmentFrequency `gorm:"type:varchar(20);not null" json:"frequency"`
	InterestRate         decimal.Decimal      `gorm:"type:numeric(6,3);not null;default:0" json:"interest_rate"`
	StartDate            time.Time            `json:"start_date"`
	EndDate              time.Time            `json:"end_date"`
	Status               PlanStatus           `gorm:"type:varchar(20);index;not null" json:"status"`
	GracePeriodDays      int                  `gorm:"not null;default:3" json:"grace_period_days"`
	LateFee              decimal.Decimal      `gorm:"type:numeric(15,2);not null;default:0" json:"late_fee"`

	PaidInstallments   int             `json:"paid_installments"`
	MissedInstallments int             `json:"missed_installments"`
	NextDueDate        *time.Time      `json:"next_due_date,omitempty"`
	NextDueAmount      decimal.Decimal `gorm:"type:numeric(15,2)" json:"next_due_amount"`
	TotalPaid          decimal.Decimal `gorm:"type:numeric(15,2)" json:"total_paid"`
	TotalOutstanding   decimal.Decimal `gorm:"type:numeric(15,2)" json:"total_outstanding"`

	Installments []Installment `gorm:"foreignKey:PlanID" json:"installments"`
}

// Installment is one scheduled sub-payment of a plan
type Installment struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`

	PlanID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_installment_plan_number,priority:1" json:"-"`
	Number int       `gorm:"not null;uniqueIndex:idx_installment_plan_number,priority:2" json:"number"`

	Amount  decimal.Decimal   `gorm:"type:numeric(15,2);not null" json:"amount"`
	DueDate time.Time         `gorm:"index" json:"due_date"`
	Status  InstallmentStatus `gorm:"type:varchar(20);index;not null" json:"status"`

	PaidDate       *time.Time      `json:"paid_date,omitempty"`
	PaidAmount     decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"paid_amount"`
	TransactionID  string          `gorm:"type:varchar(100)" json:"transaction_id,omitempty"`
	PaymentMethod  string          `gorm:"type:varchar(50)" json:"payment_method,omitempty"`
	PaymentOrderID *uuid.UUID      `gorm:"type:uuid" json:"payment_order_id,omitempty"`

	// OverdueAt stays set after a late payment so missed counts never drift
	OverdueAt *time.Time      `json:"overdue_at,omitempty"`
	LateFee   decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"late_fee"`
}

// AmountDue is what the payer owes for this installment right now
func (i Installment) AmountDue() decimal.Decimal {
	return i.Amount.Add(i.LateFee)
}

// GraceDeadline is the instant after which a pending installment is overdue
func (i Installment) GraceDeadline(graceDays int) time.Time {
	return i.DueDate.AddDate(0, 0, graceDays)
}

// Installment finds an installment by number
func (p *InstallmentPlan) Installment(number int) *Installment {
	for i := range p.Installments {
		if p.Installments[i].Number == number {
			return &p.Installments[i]
		}
	}
	return nil
}

// Recompute derives every summary field from the installment list.
func (p *InstallmentPlan) Recompute(maxMissed int) {
	sort.Slice(p.Installments, func(a, b int) bool {
		return p.Installments[a].Number < p.Installments[b].Number
	})

	paid := 0
	missed := 0
	totalPaid := decimal.Zero
	var next *Installment
	for i := range p.Installments {
		inst := &p.Installments[i]
		if inst.OverdueAt != nil {
			missed++
		}
		if inst.Status == InstallmentStatusPaid {
			paid++
			totalPaid = totalPaid.Add(inst.Amount)
			continue
		}
		if next == nil {
			next = inst
		}
	}

	p.PaidInstallments = paid
	p.MissedInstallments = missed
	p.TotalPaid = totalPaid
	p.TotalOutstanding = p.RemainingAmount.Sub(totalPaid)
	if next != nil {
		due := next.DueDate
		p.NextDueDate = &due
		p.NextDueAmount = next.AmountDue()
	} else {
		p.NextDueDate = nil
		p.NextDueAmount = decimal.Zero
	}

	if p.Status == PlanStatusCancelled {
		return
	}
	switch {
	case paid >= p.NumberOfInstallments:
		p.Status = PlanStatusCompleted
	case missed >= maxMissed:
		p.Status = PlanStatusDefaulted
	default:
		p.Status = PlanStatusActive
	}
}
