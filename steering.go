package jetracer

// steeringPassThrough writes raw*gain+offset straight to the steering channel.
type steeringPassThrough struct {
	actuator Actuator
	channel  int
	gain     float64
	offset   float64
}

func (s *steeringPassThrough) OnSteeringChanged(raw float64) error {
	return s.actuator.SetOutput(s.channel, raw*s.gain+s.offset)
}
