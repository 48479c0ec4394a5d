package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/troikatech/carecall/internal/store"
	"github.com/troikatech/carecall/pkg/logger"
)

// Source is the read side of the datastore the assembler joins over.
type Source interface {
	UserByPhone(ctx context.Context, phone string) (*store.User, error)
	LovedOneByUser(ctx context.Context, userID string) (*store.LovedOne, error)
	Medications(ctx context.Context, lovedOneID string) ([]store.Medication, error)
	CallPreferences(ctx context.Context, lovedOneID string) (*store.CallPreferences, error)
	NotificationSettings(ctx context.Context, lovedOneID string) (*store.NotificationSettings, error)
	Appointments(ctx context.Context, lovedOneID string) ([]store.Appointment, error)
}

type Assembler struct {
	source Source
	log    *zap.Logger
	now    func() time.Time
}

type Option func(*Assembler)

// WithClock overrides the clock used for time_of_day.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

func NewAssembler(source Source, log *zap.Logger, opts ...Option) *Assembler {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Assembler{source: source, log: log, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds the caller context for a canonical phone number.
// It never returns an error: datastore failures yield StatusDegraded.
func (a *Assembler) Assemble(ctx context.Context, phone string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = a.degraded(phone, fmt.Errorf("panic during profile assembly: %v", r))
		}
	}()

	user, err := a.source.UserByPhone(ctx, phone)
	if errors.Is(err, store.ErrNotFound) {
		a.log.Info("Caller not found", logger.MaskPhone("phone", phone))
		return Result{Status: StatusCallerNotFound, CallerName: DefaultCallerName}
	}
	if err != nil {
		return a.degraded(phone, fmt.Errorf("lookup user: %w", err))
	}

	lovedOne, err := a.source.LovedOneByUser(ctx, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		a.log.Info("No loved one profile for caller",
			logger.MaskPhone("phone", phone),
			zap.String("user_id", user.ID),
		)
		return Result{Status: StatusLovedOneNotFound, CallerName: user.UserName}
	}
	if err != nil {
		return a.degraded(phone, fmt.Errorf("lookup loved one: %w", err))
	}

	var (
		meds    []store.Medication
		prefs   *store.CallPreferences
		notif   *store.NotificationSettings
		appts   []store.Appointment
		g, gctx = errgroup.WithContext(ctx)
		lovedID = lovedOne.ID
	)
	g.Go(func() error {
		var err error
		if meds, err = a.source.Medications(gctx, lovedID); err != nil {
			return fmt.Errorf("fetch medications: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		prefs, err = a.source.CallPreferences(gctx, lovedID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("fetch call preferences: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		notif, err = a.source.NotificationSettings(gctx, lovedID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("fetch notification settings: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if appts, err = a.source.Appointments(gctx, lovedID); err != nil {
			return fmt.Errorf("fetch appointments: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return a.degraded(phone, err)
	}

	appointments := make([]Appointment, 0, len(appts))
	for _, ap := range appts {
		appointments = append(appointments, Appointment{
			Title:     ap.Title,
			Date:      ap.Date,
			Time:      ap.Time,
			Frequency: ap.Frequency,
		})
	}

	pc := &Context{
		Caller: Caller{Name: user.UserName},
		LovedOne: LovedOne{
			Name:         lovedOne.Name,
			Nickname:     lovedOne.Nickname,
			AgeRange:     lovedOne.AgeRange,
			Gender:       lovedOne.Gender,
			Relationship: lovedOne.Relationship,
		},
		Medications:        bucketMedications(meds),
		CallSettings:       callSettings(prefs),
		Notifications:      notifications(notif),
		Appointments:       appointments,
		AppointmentSummary: summarise(appointments),
		TimeOfDay:          TimeOfDay(a.now().In(time.Local).Hour()),
	}

	a.log.Debug("Profile assembled",
		logger.MaskPhone("phone", phone),
		zap.Int("medications", len(meds)),
		zap.Int("appointments", len(appointments)),
	)

	return Result{Status: StatusOK, CallerName: user.UserName, Context: pc}
}

func (a *Assembler) degraded(phone string, err error) Result {
	a.log.Error("Profile assembly failed",
		logger.MaskPhone("phone", phone),
		zap.Error(err),
	)
	return Result{Status: StatusDegraded, CallerName: DefaultCallerName, Err: err}
}

// bucketMedications places each medication in every bucket one of its tags
// mentions, compared case-insensitively.
func bucketMedications(meds []store.Medication) Medications {
	var morning, afternoon, evening []string
	for _, m := range meds {
		if hasTag(m.TimesOfDay, Morning) {
			morning = append(morning, m.Name)
		}
		if hasTag(m.TimesOfDay, Afternoon) {
			afternoon = append(afternoon, m.Name)
		}
		if hasTag(m.TimesOfDay, Evening) {
			evening = append(evening, m.Name)
		}
	}

	return Medications{
		HasMedications: len(meds) > 0,
		Morning:        joinOrNone(morning),
		Afternoon:      joinOrNone(afternoon),
		Evening:        joinOrNone(evening),
	}
}

func hasTag(tags store.TimesOfDay, bucket string) bool {
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), bucket) {
			return true
		}
	}
	return false
}

func callSettings(p *store.CallPreferences) CallSettings {
	if p == nil {
		p = &store.CallPreferences{}
	}
	return CallSettings{
		Length:    stringOr(p.CallLength, DefaultCallLength),
		Voice:     stringOr(p.VoicePreference, DefaultVoice),
		Frequency: stringOr(p.CallFrequency, DefaultCallFrequency),
		Checklist: Checklist{
			MedicationReminders:  boolOr(p.MedicationReminders),
			SleepQuality:         boolOr(p.SleepQuality),
			MoodCheck:            boolOr(p.MoodCheck),
			UpcomingAppointments: boolOr(p.UpcomingAppointments),
		},
	}
}

func notifications(n *store.NotificationSettings) Notifications {
	if n == nil {
		return Notifications{}
	}
	return Notifications{
		DailySummary: boolOr(n.DailyCallSummary),
		MissedCalls:  boolOr(n.MissedCalls),
		LowSentiment: boolOr(n.LowSentiment),
	}
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool) bool {
	return v != nil && *v
}
