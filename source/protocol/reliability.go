package protocol

// applyAckSample reconstructs the full 32-bit sent time from its 16-bit
// echo, computes an RTT sample, and updates the RTT/throttle EWMAs.
func (p *Peer) applyAckSample(echoedSentTime uint16, serviceTime uint32) {
	sentTime := reconstructSentTime(echoedSentTime, serviceTime)
	sample := timeDiff(serviceTime, sentTime)

	if sample < p.lowestRoundTripTime || p.lowestRoundTripTime == 0 {
		p.lowestRoundTripTime = sample
	}
	variance := diffU32(sample, p.roundTripTime)
	if variance > p.highestRoundTripTimeVariance {
		p.highestRoundTripTimeVariance = variance
	}

	if sample < p.lastRoundTripTime {
		p.packetThrottle += p.packetThrottleAcceleration
		if p.packetThrottle > p.packetThrottleLimit {
			p.packetThrottle = p.packetThrottleLimit
		}
	} else if sample > p.lastRoundTripTime+2*p.lastRoundTripTimeVariance {
		if p.packetThrottle > p.packetThrottleDeceleration {
			p.packetThrottle -= p.packetThrottleDeceleration
		} else {
			p.packetThrottle = 0
		}
	}

	p.roundTripTimeVariance -= p.roundTripTimeVariance / 4
	if sample >= p.roundTripTime {
		p.roundTripTime += (sample - p.roundTripTime) / 8
		p.roundTripTimeVariance += (sample - p.roundTripTime) / 4
	} else {
		p.roundTripTime -= (p.roundTripTime - sample) / 8
		p.roundTripTimeVariance += (p.roundTripTime - sample) / 4
	}

	if p.packetThrottleEpoch == 0 || timeGE(serviceTime, p.packetThrottleEpoch+p.packetThrottleInterval) {
		p.lastRoundTripTime = p.lowestRoundTripTime
		p.lastRoundTripTimeVariance = maxU32(p.highestRoundTripTimeVariance, 1)
		p.lowestRoundTripTime = p.roundTripTime
		p.highestRoundTripTimeVariance = p.roundTripTimeVariance
		p.packetThrottleEpoch = serviceTime
	}

	if p.host.Metrics != nil {
		p.host.Metrics.RoundTripTime.Observe(float64(p.roundTripTime))
	}
}

func diffU32(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// reconstructSentTime widens a 16-bit truncated sent-time echo back to
// 32 bits using serviceTime's high bits, stepping back one 16-bit epoch
// if that would place the reconstructed value in the future.
func reconstructSentTime(echoed uint16, serviceTime uint32) uint32 {
	reconstructed := (serviceTime & 0xFFFF0000) | uint32(echoed)
	if reconstructed > serviceTime && serviceTime < 0x10000 {
		return reconstructed
	}
	if reconstructed > serviceTime {
		return reconstructed - 0x10000
	}
	return reconstructed
}

// checkTimeouts scans sentReliableCommands for commands whose retransmit
// deadline has elapsed, either doubling their timeout and requeuing them
// at the front of outgoingReliableCommands, or declaring the peer timed
// out, mirroring hnet_protocol_check_timeouts.
func (p *Peer) checkTimeouts(serviceTime uint32) (timedOut bool) {
	var requeue []*outgoingCommand

	e := p.sentReliableCommands.Front()
	for e != nil {
		next := e.Next()
		oc := e.Value.(*outgoingCommand)

		if timeGE(serviceTime, oc.sentTime+oc.roundTripTimeout) {
			if p.earliestTimeout == 0 || timeLess(oc.sentTime, p.earliestTimeout) {
				p.earliestTimeout = oc.sentTime
			}

			if timeDiff(serviceTime, p.earliestTimeout) >= p.timeoutMax ||
				(oc.roundTripTimeout >= oc.roundTripTimeoutLimit && timeDiff(serviceTime, p.earliestTimeout) >= p.timeoutMin) {
				timedOut = true
			} else {
				p.packetsLost++
				oc.roundTripTimeout *= 2
				p.sentReliableCommands.Remove(e)
				requeue = append(requeue, oc)
				if p.host.Metrics != nil {
					p.host.Metrics.Retransmits.Inc()
					p.host.Metrics.PacketsLost.Inc()
				}
			}
		}
		e = next
	}

	// Requeued commands go back to the front of outgoingReliableCommands
	// in their original relative order, so the next send pass retries the
	// oldest loss first.
	if len(requeue) > 0 {
		p.outgoingReliableCommands = append(requeue, p.outgoingReliableCommands...)
	}

	if timedOut {
		p.eventData = 0
		p.changeState(StateZombie)
		if !p.needsDispatch {
			p.host.pushDispatch(p)
			p.needsDispatch = true
		}
	}
	return timedOut
}

// applyBandwidthRecalculation apportions host.outgoingBandwidth among
// connected peers proportionally to their outgoingDataTotal demand and
// pushes a BANDWIDTH_LIMIT command to any peer whose share changed,
// lazily, only once an epoch boundary is crossed.
func (h *Host) applyBandwidthRecalculation(serviceTime uint32) {
	previousEpoch := h.bandwidthThrottleEpoch
	h.bandwidthThrottleEpoch = serviceTime
	h.recalculateBandwidthLimits = false

	if h.outgoingBandwidth == 0 {
		return
	}

	var totalDemand uint32
	connected := 0
	for _, p := range h.peers {
		if !p.Connected() {
			continue
		}
		connected++
		totalDemand += p.outgoingDataTotal
	}
	if connected == 0 || totalDemand == 0 {
		return
	}

	elapsed := timeDiff(serviceTime, previousEpoch)
	if elapsed == 0 {
		elapsed = BandwidthThrottleInterval
	}
	budget := uint64(h.outgoingBandwidth) * uint64(elapsed) / 1000

	for _, p := range h.peers {
		if !p.Connected() {
			continue
		}
		share := uint32(budget * uint64(p.outgoingDataTotal) / uint64(totalDemand))
		if share == p.outgoingBandwidthThrottleEpoch {
			continue
		}
		p.outgoingBandwidthThrottleEpoch = share
		cmd := &Command{
			Header: CommandHeader{Command: byte(OpBandwidthLimit) | CommandFlagAcknowledge, ChannelID: 0xFF},
			BandwidthLimit: &BandwidthLimitPayload{
				IncomingBandwidth: h.incomingBandwidth,
				OutgoingBandwidth: share,
			},
		}
		p.queueOutgoingCommand(cmd, nil, 0, 0)
	}
}
