package domain

// Medium is a concrete delivery mechanism recorded in send history.
type Medium string

const (
	MediumEmailMailchimp Medium = "EMAIL_MAILCHIMP"
	MediumCronJob        Medium = "CRON_JOB"
	MediumPromptContent  Medium = "PROMPT_CONTENT"
	MediumEmailSendgrid  Medium = "EMAIL_SENDGRID"
	MediumPush           Medium = "PUSH"
)

// MediumSet is an immutable set of mediums.
type MediumSet map[Medium]struct{}

func NewMediumSet(ms ...Medium) MediumSet {
	s := make(MediumSet, len(ms))
	for _, m := range ms {
		s[m] = struct{}{}
	}
	return s
}

func (s MediumSet) Contains(m Medium) bool {
	_, ok := s[m]
	return ok
}

var (
	emailRestricted = NewMediumSet(MediumEmailMailchimp, MediumCronJob, MediumPromptContent, MediumEmailSendgrid)
	pushRestricted  = NewMediumSet(MediumPush)
)

// RestrictedMediums lists the history mediums that block dispatch on ch.
func RestrictedMediums(ch Channel) MediumSet {
	switch ch {
	case ChannelEmail:
		return emailRestricted
	case ChannelPush:
		return pushRestricted
	}
	return nil
}

// HistoryMedium is the medium recorded after a successful dispatch on ch.
// It is always a member of RestrictedMediums(ch).
func HistoryMedium(ch Channel) Medium {
	switch ch {
	case ChannelEmail:
		return MediumEmailSendgrid
	case ChannelPush:
		return MediumPush
	}
	return ""
}
