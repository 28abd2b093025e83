// Package netting reduces the settlement movements implied by a batch's
// member transactions to a minimal set of net positions and settlement
// instructions, per spec.md §4.5. Bilateral pair aggregation is grounded
// in mbd888-alancoin's ComputeNetSettlements (normalize the unordered
// pair, net the signed amount); multilateral reduction is new code
// modeling the largest-payer/largest-receiver heuristic spec.md §9
// describes as a bipartite matching.
package netting

import (
	"sort"

	"github.com/google/uuid"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/domain/models"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/money"
)

// Movement is one directed, single-currency obligation feeding the
// calculator: a settled transaction reduced to (source, dest, amount).
type Movement struct {
	Source   uuid.UUID
	Dest     uuid.UUID
	Amount   money.Amount
	Currency string
}

// Instruction is a single settlement movement the netting computation
// could not eliminate.
type Instruction struct {
	Payer    uuid.UUID
	Receiver uuid.UUID
	Amount   money.Amount
	Currency string
}

// Report is the Netting Calculator's output for one (batch, currency)
// computation.
type Report struct {
	Currency     string
	Positions    []models.NettingPosition
	Instructions []Instruction
	GrossVolume  money.Amount
	NetVolume    money.Amount
	Efficiency   float64 // undefined (reported as 0) when GrossVolume is zero
}

// Bilateral partitions movements by unordered participant pair and nets
// each pair independently, per spec.md §4.5's bilateral rule.
func Bilateral(batchID uuid.UUID, currency string, movements []Movement) Report {
	type pairKey struct{ a, b uuid.UUID }
	nets := make(map[pairKey]money.Amount)
	order := make([]pairKey, 0)

	for _, m := range movements {
		a, b := m.Source, m.Dest
		amt := m.Amount
		if greater(a, b) {
			a, b = b, a
			amt = amt.Neg()
		}
		key := pairKey{a, b}
		if _, ok := nets[key]; !ok {
			order = append(order, key)
			nets[key] = money.Zero
		}
		nets[key] = nets[key].Add(amt)
	}

	var instructions []Instruction
	gross := grossVolume(movements)

	for _, key := range order {
		net := nets[key]
		if net.IsZero() {
			continue
		}
		payer, receiver := key.a, key.b
		amount := net
		if amount.IsNegative() {
			payer, receiver = receiver, payer
			amount = amount.Neg()
		}
		instructions = append(instructions, Instruction{Payer: payer, Receiver: receiver, Amount: amount, Currency: currency})
	}

	netVolume := money.Zero
	for _, in := range instructions {
		netVolume = netVolume.Add(in.Amount)
	}

	return Report{
		Currency:     currency,
		Instructions: instructions,
		GrossVolume:  gross,
		NetVolume:    netVolume,
		Efficiency:   efficiency(gross, netVolume),
	}
}

// Multilateral computes each participant's net position across the whole
// batch, then greedily matches the largest payer to the largest receiver
// until every position is zero, per spec.md §4.5/§9. Ties break by
// ascending participant id.
func Multilateral(batchID uuid.UUID, currency string, movements []Movement) Report {
	positionsOf := make(map[uuid.UUID]money.Amount)
	receivableOf := make(map[uuid.UUID]money.Amount)
	payableOf := make(map[uuid.UUID]money.Amount)
	countOf := make(map[uuid.UUID]int)
	participants := make(map[uuid.UUID]bool)

	for _, m := range movements {
		participants[m.Source] = true
		participants[m.Dest] = true

		positionsOf[m.Dest] = addOrInit(positionsOf, m.Dest, m.Amount)
		positionsOf[m.Source] = addOrInit(positionsOf, m.Source, m.Amount.Neg())

		receivableOf[m.Dest] = addOrInit(receivableOf, m.Dest, m.Amount)
		payableOf[m.Source] = addOrInit(payableOf, m.Source, m.Amount)

		countOf[m.Source]++
		countOf[m.Dest]++
	}

	ids := make([]uuid.UUID, 0, len(participants))
	for id := range participants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })

	positions := make([]models.NettingPosition, 0, len(ids))
	for _, id := range ids {
		positions = append(positions, models.NettingPosition{
			BatchID:          batchID,
			ParticipantID:    id,
			Currency:         currency,
			GrossReceivable:  zeroIfAbsent(receivableOf, id),
			GrossPayable:     zeroIfAbsent(payableOf, id),
			NetPosition:      zeroIfAbsent(positionsOf, id),
			TransactionCount: countOf[id],
		})
	}

	instructions := matchPayersToReceivers(positions, currency)

	gross := grossVolume(movements)
	netVolume := money.Zero
	for _, p := range positions {
		if p.NetPosition.IsPositive() {
			netVolume = netVolume.Add(p.NetPosition)
		}
	}

	return Report{
		Currency:     currency,
		Positions:    positions,
		Instructions: instructions,
		GrossVolume:  gross,
		NetVolume:    netVolume,
		Efficiency:   efficiency(gross, netVolume),
	}
}

// matchPayersToReceivers repeatedly pairs the largest remaining net payer
// with the largest remaining net receiver until every position nets to
// zero, minimizing (heuristically) the instruction count.
func matchPayersToReceivers(positions []models.NettingPosition, currency string) []Instruction {
	type balance struct {
		id     uuid.UUID
		amount money.Amount
	}

	var payers, receivers []balance
	for _, p := range positions {
		switch {
		case p.NetPosition.IsNegative():
			payers = append(payers, balance{id: p.ParticipantID, amount: p.NetPosition.Neg()})
		case p.NetPosition.IsPositive():
			receivers = append(receivers, balance{id: p.ParticipantID, amount: p.NetPosition})
		}
	}

	var instructions []Instruction
	for len(payers) > 0 && len(receivers) > 0 {
		sort.Slice(payers, func(i, j int) bool { return rankGreater(payers[i], payers[j]) })
		sort.Slice(receivers, func(i, j int) bool { return rankGreater(receivers[i], receivers[j]) })

		p, r := &payers[0], &receivers[0]
		amount := p.amount
		if r.amount.LessThan(amount) {
			amount = r.amount
		}

		instructions = append(instructions, Instruction{Payer: p.id, Receiver: r.id, Amount: amount, Currency: currency})

		p.amount = p.amount.Sub(amount)
		r.amount = r.amount.Sub(amount)

		if p.amount.IsZero() {
			payers = payers[1:]
		}
		if r.amount.IsZero() {
			receivers = receivers[1:]
		}
	}

	return instructions
}

func rankGreater(a, b struct {
	id     uuid.UUID
	amount money.Amount
}) bool {
	if a.amount.Equal(b.amount) {
		return lessID(a.id, b.id)
	}
	return a.amount.GreaterThan(b.amount)
}

func grossVolume(movements []Movement) money.Amount {
	total := money.Zero
	for _, m := range movements {
		total = total.Add(m.Amount.Abs())
	}
	return total
}

func efficiency(gross, net money.Amount) float64 {
	if gross.IsZero() {
		return 0
	}
	reduction := gross.Sub(net)
	g, _ := gross.Decimal().Float64()
	r, _ := reduction.Decimal().Float64()
	if g == 0 {
		return 0
	}
	return r / g
}

func addOrInit(m map[uuid.UUID]money.Amount, id uuid.UUID, delta money.Amount) money.Amount {
	if v, ok := m[id]; ok {
		return v.Add(delta)
	}
	return delta
}

func zeroIfAbsent(m map[uuid.UUID]money.Amount, id uuid.UUID) money.Amount {
	if v, ok := m[id]; ok {
		return v
	}
	return money.Zero
}

func greater(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

func lessID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
