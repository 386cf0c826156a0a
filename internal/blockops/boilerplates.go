package blockops

// Boilerplate seeds a newly created block with template data and
// metadata. Templates are matched by name and must agree on category.
type Boilerplate struct {
	Category string
	Data     string
	Metadata map[string]interface{}
}

var boilerplates = map[string]Boilerplate{
	"announcement": {
		Category: "html",
		Data: "<p><strong>Use this template to announce important updates.</strong></p>\n" +
			"<p>Replace this text with your announcement.</p>",
		Metadata: map[string]interface{}{
			"display_name": "Announcement",
		},
	},
	"raw_html": {
		Category: "html",
		Data:     "",
		Metadata: map[string]interface{}{
			"display_name": "Raw HTML",
			"editor":       "raw",
		},
	},
	"multiple_choice": {
		Category: "problem",
		Data: "<problem>\n  <multiplechoiceresponse>\n    <choicegroup type=\"MultipleChoice\">\n" +
			"      <choice correct=\"true\">correct</choice>\n      <choice correct=\"false\">incorrect</choice>\n" +
			"    </choicegroup>\n  </multiplechoiceresponse>\n</problem>",
		Metadata: map[string]interface{}{
			"display_name": "Multiple Choice",
			"markdown":     "( ) incorrect\n(x) correct",
		},
	},
}
