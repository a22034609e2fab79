package workbench

const busyLabel = "Working..."

// Panel is one text area with its button. Panels are owned by the UI loop;
// read and write them from callbacks running on it.
type Panel struct {
	title   string
	action  string
	text    string
	enabled bool
	label   string
}

func newPanel(title, action string) *Panel {
	p := &Panel{title: title, action: action}
	p.setAvailable(true)
	return p
}

func (p *Panel) Title() string    { return p.title }
func (p *Panel) Text() string     { return p.text }
func (p *Panel) Enabled() bool    { return p.enabled }
func (p *Panel) Label() string    { return p.label }
func (p *Panel) SetText(s string) { p.text = s }

func (p *Panel) setAvailable(ok bool) {
	p.enabled = ok
	if ok {
		p.label = p.action
	} else {
		p.label = busyLabel
	}
}
