package protocol

// PacketFlag mirrors include/packet.h's HNET_PACKET_FLAG_* bitset.
type PacketFlag uint32

const (
	PacketFlagReliable           PacketFlag = 1 << 0
	PacketFlagUnsequenced        PacketFlag = 1 << 1
	PacketFlagNoAllocate         PacketFlag = 1 << 2
	PacketFlagUnreliableFragment PacketFlag = 1 << 3
	packetFlagSent               PacketFlag = 1 << 8
)

// FreeCallback runs once a Packet's reference count reaches zero, mirroring
// HNetPacketFreeCallback.
type FreeCallback func(*Packet)

// Packet is a reference-counted byte blob, owned jointly by every outgoing
// or incoming command that references it. The refcount is a plain int,
// not atomic: all host/peer mutation (including Packet refcounting)
// happens on the caller's goroutine inside
// Host.Service/Send/Connect/Disconnect, which the application must not
// call concurrently with itself.
type Packet struct {
	Data         []byte
	Flags        PacketFlag
	UserData     any
	refCount     int
	freeCallback FreeCallback
}

// NewPacket creates a Packet wrapping data. With PacketFlagNoAllocate the
// Packet aliases the caller's slice instead of copying it, matching
// hnet_packet_create's flag semantics; callers using that flag must not
// mutate data afterward.
func NewPacket(data []byte, flags PacketFlag) *Packet {
	var owned []byte
	if flags&PacketFlagNoAllocate != 0 {
		owned = data
	} else {
		owned = make([]byte, len(data))
		copy(owned, data)
	}
	return &Packet{Data: owned, Flags: flags}
}

// SetFreeCallback installs a hook run when the packet is destroyed.
func (p *Packet) SetFreeCallback(cb FreeCallback) {
	p.freeCallback = cb
}

func (p *Packet) retain() {
	p.refCount++
}

// release decrements the reference count and destroys the packet at zero,
// mirroring the --refCount / hnet_packet_destroy pattern repeated across
// original_source/src/peer.cpp.
func (p *Packet) release() {
	p.refCount--
	if p.refCount <= 0 {
		p.destroy()
	}
}

func (p *Packet) markSent() {
	p.Flags |= packetFlagSent
}

func (p *Packet) destroy() {
	if p.freeCallback != nil {
		p.freeCallback(p)
	}
}

// Resize grows or shrinks the packet's backing payload in place, mirroring
// packet_resize from the original application API.
func (p *Packet) Resize(length int) {
	if length <= len(p.Data) {
		p.Data = p.Data[:length]
		return
	}
	grown := make([]byte, length)
	copy(grown, p.Data)
	p.Data = grown
}
