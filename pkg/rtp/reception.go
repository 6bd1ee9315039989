package rtp

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// ReorderWindow на сколько номеров последовательности пакет может опоздать,
// чтобы все еще быть принятым
const ReorderWindow = 10

// seqVerdict решение по номеру последовательности входящего пакета
type seqVerdict int

const (
	seqInOrder seqVerdict = iota
	seqLate
	seqDuplicate
	seqStale
)

// ReceptionStats снимок статистики приема от удаленного источника
type ReceptionStats struct {
	SSRC               uint32
	PacketsReceived    uint32
	OctetsReceived     uint64
	ExtendedHighestSeq uint32
	CumulativeLost     uint32
	Jitter             uint32
	LastSenderReport   uint32
}

// receptionStats учет приема одного источника по RFC 3550 (A.1, A.3, A.8).
// Смена SSRC означает перезапуск источника: состояние сбрасывается.
type receptionStats struct {
	mu        sync.Mutex
	clockRate uint32
	epoch     time.Time

	active   bool
	ssrc     uint32
	baseSeq  uint16
	maxSeq   uint16
	cycles   uint32
	received uint32
	octets   uint64

	expectedPrior uint32
	receivedPrior uint32

	transit     int64
	haveTransit bool
	jitter      float64

	lastSR        uint32
	lastSRArrival time.Time
}

func newReceptionStats(clockRate uint32) *receptionStats {
	return &receptionStats{clockRate: clockRate, epoch: time.Now()}
}

// update классифицирует пакет и учитывает принятые.
// restarted истинно, если пакет пришел от нового SSRC.
func (r *receptionStats) update(packet *rtp.Packet, arrival time.Time) (verdict seqVerdict, restarted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq := packet.SequenceNumber
	if !r.active || packet.SSRC != r.ssrc {
		restarted = r.active
		r.reset(packet.SSRC, seq)
		r.account(packet, arrival)
		return seqInOrder, restarted
	}

	delta := int16(seq - r.maxSeq)
	switch {
	case delta > 0:
		if seq < r.maxSeq {
			r.cycles += 1 << 16
		}
		r.maxSeq = seq
		verdict = seqInOrder
	case delta == 0:
		return seqDuplicate, false
	case delta > -ReorderWindow:
		verdict = seqLate
	default:
		return seqStale, false
	}

	r.account(packet, arrival)
	return verdict, false
}

// reset вызывается под r.mu
func (r *receptionStats) reset(ssrc uint32, seq uint16) {
	r.active = true
	r.ssrc = ssrc
	r.baseSeq = seq
	r.maxSeq = seq
	r.cycles = 0
	r.received = 0
	r.octets = 0
	r.expectedPrior = 0
	r.receivedPrior = 0
	r.transit = 0
	r.haveTransit = false
	r.jitter = 0
	r.lastSR = 0
	r.lastSRArrival = time.Time{}
}

func (r *receptionStats) account(packet *rtp.Packet, arrival time.Time) {
	r.received++
	r.octets += uint64(len(packet.Payload))

	if r.clockRate == 0 {
		return
	}
	// Время прибытия в единицах RTP часов
	units := int64(arrival.Sub(r.epoch).Seconds() * float64(r.clockRate))
	transit := units - int64(packet.Timestamp)
	if r.haveTransit {
		d := transit - r.transit
		if d < 0 {
			d = -d
		}
		r.jitter += (float64(d) - r.jitter) / 16
	}
	r.transit = transit
	r.haveTransit = true
}

// senderReport запоминает отметку времени SR источника для LSR/DLSR
func (r *receptionStats) senderReport(sr *rtcp.SenderReport, arrival time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active || sr.SSRC != r.ssrc {
		return
	}
	r.lastSR = uint32(sr.NTPTime >> 16)
	r.lastSRArrival = arrival
}

func (r *receptionStats) extendedMax() uint32 {
	return r.cycles + uint32(r.maxSeq)
}

func (r *receptionStats) cumulativeLost() uint32 {
	expected := r.extendedMax() - uint32(r.baseSeq) + 1
	lost := int64(expected) - int64(r.received)
	if lost < 0 {
		// повторы и опоздавшие пакеты могут дать отрицательное значение
		return 0
	}
	if lost > 0x7fffff {
		return 0x7fffff
	}
	return uint32(lost)
}

// report формирует блок reception report и начинает новый интервал
// для fraction lost. ok ложно, пока не принято ни одного пакета.
func (r *receptionStats) report(now time.Time) (rtcp.ReceptionReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return rtcp.ReceptionReport{}, false
	}

	expected := r.extendedMax() - uint32(r.baseSeq) + 1
	expectedInterval := expected - r.expectedPrior
	receivedInterval := r.received - r.receivedPrior
	r.expectedPrior = expected
	r.receivedPrior = r.received

	var fraction uint8
	lostInterval := int64(expectedInterval) - int64(receivedInterval)
	if expectedInterval != 0 && lostInterval > 0 {
		fraction = uint8(min((lostInterval<<8)/int64(expectedInterval), 255))
	}

	var delay uint32
	if r.lastSR != 0 {
		delay = uint32(now.Sub(r.lastSRArrival).Seconds() * 65536)
	}

	return rtcp.ReceptionReport{
		SSRC:               r.ssrc,
		FractionLost:       fraction,
		TotalLost:          r.cumulativeLost(),
		LastSequenceNumber: r.extendedMax(),
		Jitter:             uint32(r.jitter),
		LastSenderReport:   r.lastSR,
		Delay:              delay,
	}, true
}

func (r *receptionStats) snapshot() ReceptionStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return ReceptionStats{}
	}
	return ReceptionStats{
		SSRC:               r.ssrc,
		PacketsReceived:    r.received,
		OctetsReceived:     r.octets,
		ExtendedHighestSeq: r.extendedMax(),
		CumulativeLost:     r.cumulativeLost(),
		Jitter:             uint32(r.jitter),
		LastSenderReport:   r.lastSR,
	}
}
