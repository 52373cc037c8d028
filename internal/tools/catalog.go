package tools

import (
	"fmt"
	"strings"

	"github.com/yoockh/crisishelp/internal/models"
)

const EmergencyNumber = "911"

// localResources answers provide_local_resource.
var localResources = map[models.ResourceType]models.EmergencyResource{
	models.ResourceMentalHealth: {
		Phone:       "988",
		Name:        "National Suicide Prevention Lifeline",
		Description: "24/7 crisis support",
	},
	models.ResourcePoisonControl: {
		Phone:       "1-800-222-1222",
		Name:        "Poison Control",
		Description: "24/7 poison emergency hotline",
	},
}

// LookupResource returns nil for unknown types.
func LookupResource(t models.ResourceType) *models.EmergencyResource {
	r, ok := localResources[t]
	if !ok {
		return nil
	}
	return &r
}

type DirectoryEntry struct {
	Key string `json:"key"`
	models.EmergencyResource
}

// Directory is the full list of US crisis lines shown on the resources page.
var Directory = []DirectoryEntry{
	{"emergency", models.EmergencyResource{Name: "Emergency Services", Phone: "911", Description: "For life-threatening emergencies"}},
	{"poison_control", models.EmergencyResource{Name: "Poison Control", Phone: "1-800-222-1222", Description: "24/7 poison emergency hotline"}},
	{"suicide_prevention", models.EmergencyResource{Name: "National Suicide Prevention Lifeline", Phone: "988", Description: "Crisis support and suicide prevention"}},
	{"domestic_violence", models.EmergencyResource{Name: "National Domestic Violence Hotline", Phone: "1-800-799-7233", Description: "Support for domestic violence survivors"}},
	{"mental_health", models.EmergencyResource{Name: "Crisis Text Line", Phone: "741741", Description: "Text HOME to connect with a crisis counselor"}},
	{"disaster_distress", models.EmergencyResource{Name: "Disaster Distress Helpline", Phone: "1-800-985-5990", Description: "Support for disaster-related distress"}},
}

func LookupDirectory(key string) (models.EmergencyResource, bool) {
	for _, e := range Directory {
		if e.Key == key {
			return e.EmergencyResource, true
		}
	}
	return models.EmergencyResource{}, false
}

// OfflineContacts are always reachable, even with no network.
var OfflineContacts = []models.EmergencyResource{
	{Name: "988 Lifeline", Phone: "988", Description: "Emotional support & suicide prevention"},
	{Name: "Crisis Text Line", Phone: "741741", Description: "Text support 24/7"},
	{Name: "Emergency Services", Phone: "911", Description: "Immediate physical danger"},
}

// FormatPhoneNumber renders US numbers for display. Short codes and numbers
// it does not recognize come back unchanged.
func FormatPhoneNumber(phone string) string {
	if phone == "911" || phone == "741741" {
		return phone
	}

	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()

	switch {
	case len(d) == 10:
		return fmt.Sprintf("(%s) %s-%s", d[:3], d[3:6], d[6:])
	case len(d) == 11 && d[0] == '1':
		return fmt.Sprintf("+1 (%s) %s-%s", d[1:4], d[4:7], d[7:])
	default:
		return phone
	}
}

func MapLink(loc models.Location) string {
	return fmt.Sprintf("https://www.google.com/maps?q=%v,%v", loc.Lat, loc.Lng)
}

func SOSMessage(loc models.Location) string {
	return "SOS! I am in a crisis and need help. My current location is: " + MapLink(loc)
}
