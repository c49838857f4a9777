package services

import (
	"context"
	"encoding/json"
	"fmt"

	appconfig "carblock-backend/internal/config"
	"carblock-backend/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/rs/zerolog/log"
)

// Dispatcher fans lifecycle transitions out to email (SES) and Web Push.
// Channels are configured once at startup; a channel that fails to
// configure stays disabled and every send through it is a silent skip.
// All delivery is best-effort: failures are logged, never returned.
type Dispatcher struct {
	sesClient    *ses.Client
	from         string
	vapidPublic  string
	vapidPrivate string
	subscriber   string
	emailEnabled bool
	pushEnabled  bool
}

// NewDispatcher creates a notification dispatcher from configuration.
func NewDispatcher(emailCfg appconfig.EmailConfig, pushCfg appconfig.WebPushConfig) *Dispatcher {
	d := &Dispatcher{
		from:         emailCfg.From,
		vapidPublic:  pushCfg.PublicKey,
		vapidPrivate: pushCfg.PrivateKey,
		subscriber:   pushCfg.Subscriber,
	}

	if emailCfg.From != "" {
		opts := []func(*awsconfig.LoadOptions) error{
			awsconfig.WithRegion(emailCfg.Region),
		}
		if emailCfg.AccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(emailCfg.AccessKey, emailCfg.SecretKey, ""),
			))
		}
		cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
		if err != nil {
			log.Warn().Err(err).Msg("Email notifications disabled: failed to load AWS config")
		} else {
			d.sesClient = ses.NewFromConfig(cfg)
			d.emailEnabled = true
		}
	}

	if pushCfg.PublicKey != "" && pushCfg.PrivateKey != "" {
		d.pushEnabled = true
	}

	log.Info().
		Bool("email_enabled", d.emailEnabled).
		Bool("push_enabled", d.pushEnabled).
		Msg("Notification dispatcher configured")

	return d
}

// EmailEnabled reports whether the email channel is configured.
func (d *Dispatcher) EmailEnabled() bool { return d.emailEnabled }

// PushEnabled reports whether the Web Push channel is configured.
func (d *Dispatcher) PushEnabled() bool { return d.pushEnabled }

// VapidPublicKey returns the public VAPID key clients subscribe with.
func (d *Dispatcher) VapidPublicKey() string { return d.vapidPublic }

// AlertCreated notifies the receiver that their car is blocking someone.
func (d *Dispatcher) AlertCreated(ctx context.Context, alert *models.Alert, receiver *models.User) {
	d.sendEmail(ctx, receiver,
		"URGENT: Your car is blocking someone",
		fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
<h2>Your Car is Blocking</h2>
<p>Your car with plate number <strong>%s</strong> is blocking someone at the parking lot.</p>
<p>Please move it as soon as possible.</p>
</div>`, alert.DetectedPlate),
	)
	d.sendPush(ctx, receiver, pushPayload{
		Title: "Move Your Car",
		Body:  fmt.Sprintf("Your car (%s) is blocking someone", alert.DetectedPlate),
	})
}

// MoveRequested notifies the sender that the owner needs to leave.
func (d *Dispatcher) MoveRequested(ctx context.Context, alert *models.Alert, sender, receiver *models.User, urgent bool) {
	ownerName := "The car owner"
	ownerPhone := ""
	if receiver != nil {
		if receiver.Name != nil {
			ownerName = *receiver.Name
		}
		if receiver.Phone != nil {
			ownerPhone = *receiver.Phone
		}
	}

	subject := "Time to move your car!"
	body := fmt.Sprintf("%s needs to leave. Please move your car.", ownerName)
	if urgent {
		subject = "Move your car NOW!"
		body = fmt.Sprintf("%s is leaving right now. Move your car immediately.", ownerName)
	}

	phoneLine := ""
	if ownerPhone != "" {
		phoneLine = fmt.Sprintf(`<p><a href="tel:%s">Call: %s</a></p>`, ownerPhone, ownerPhone)
	}
	d.sendEmail(ctx, sender, subject,
		fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
<h2>%s</h2>
<p>Car you're blocking: <strong>%s</strong></p>
<p>Owner: %s</p>
%s
<p>Please move your car as soon as possible!</p>
</div>`, subject, alert.DetectedPlate, ownerName, phoneLine),
	)
	d.sendPush(ctx, sender, pushPayload{Title: subject, Body: body})
}

// Unblocked notifies the receiver that the blocker has moved.
func (d *Dispatcher) Unblocked(ctx context.Context, alert *models.Alert, sender, receiver *models.User) {
	blockerName := "The person blocking you"
	if sender != nil && sender.Name != nil {
		blockerName = *sender.Name
	}

	d.sendEmail(ctx, receiver,
		"Your car is no longer blocked!",
		fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
<h2>You Can Leave Now!</h2>
<p>Your car: <strong>%s</strong></p>
<p>%s has moved their car. Your car is no longer blocked!</p>
</div>`, alert.DetectedPlate, blockerName),
	)
	d.sendPush(ctx, receiver, pushPayload{
		Title: "Your car is no longer blocked!",
		Body:  fmt.Sprintf("%s has moved their car. You can leave now.", blockerName),
	})
}

type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon"`
	Badge string `json:"badge"`
	Data  struct {
		URL string `json:"url"`
	} `json:"data"`
}

func (d *Dispatcher) sendEmail(ctx context.Context, to *models.User, subject, htmlBody string) {
	if !d.emailEnabled || to == nil || to.Email == "" {
		return
	}

	input := &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{to.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
			},
		},
		Source: aws.String(d.from),
	}

	if _, err := d.sesClient.SendEmail(ctx, input); err != nil {
		log.Error().Err(err).Str("to", to.Email).Str("subject", subject).Msg("Email notification failed")
	}
}

func (d *Dispatcher) sendPush(ctx context.Context, to *models.User, payload pushPayload) {
	if !d.pushEnabled || to == nil || len(to.PushSubscription) == 0 {
		return
	}

	var sub webpush.Subscription
	if err := json.Unmarshal(to.PushSubscription, &sub); err != nil {
		log.Error().Err(err).Str("user_id", to.ID).Msg("Invalid push subscription")
		return
	}

	payload.Icon = "/icon-192.png"
	payload.Badge = "/icon-192.png"
	payload.Data.URL = "/history"
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode push payload")
		return
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &sub, &webpush.Options{
		Subscriber:      d.subscriber,
		VAPIDPublicKey:  d.vapidPublic,
		VAPIDPrivateKey: d.vapidPrivate,
		TTL:             60,
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", to.ID).Msg("Push notification failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Error().Int("status", resp.StatusCode).Str("user_id", to.ID).Msg("Push notification rejected")
	}
}
