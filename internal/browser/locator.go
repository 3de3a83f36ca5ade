package browser

import (
	"encoding/json"
	"fmt"
)

const (
	queryLabel = "label"
	queryText  = "text"
)

const (
	opVisible = "visible"
	opAttr    = "attr"
	opPoint   = "point"
)

// resolverJS resolves a label or text query in the page and applies one
// operation to the match. It never throws for a missing element; count
// carries the number of matches and the Go side enforces strictness.
const resolverJS = `(kind, want, exact, op, arg) => {
	const norm = s => (s || '').replace(/\s+/g, ' ').trim();
	want = norm(want);
	const matches = s => {
		s = norm(s);
		if (exact) return s === want;
		return s.toLowerCase().includes(want.toLowerCase());
	};
	const skip = new Set(['SCRIPT', 'STYLE', 'HEAD', 'TEMPLATE', 'NOSCRIPT']);
	const byLabel = () => {
		const out = [];
		for (const el of document.querySelectorAll('*')) {
			if (skip.has(el.tagName)) continue;
			const names = [];
			const aria = el.getAttribute('aria-label');
			if (aria !== null) names.push(aria);
			const ref = el.getAttribute('aria-labelledby');
			if (ref) {
				names.push(ref.split(/\s+/).map(id => {
					const r = document.getElementById(id);
					return r ? r.textContent : '';
				}).join(' '));
			}
			if (el.labels) {
				for (const l of el.labels) names.push(l.textContent);
			}
			if (names.some(matches)) out.push(el);
		}
		return out;
	};
	const byText = () => {
		const out = [];
		const walk = el => {
			if (skip.has(el.tagName)) return false;
			let inner = false;
			for (const c of el.children) {
				if (walk(c)) inner = true;
			}
			if (inner) return true;
			if (matches(el.textContent)) {
				out.push(el);
				return true;
			}
			return false;
		};
		if (document.body) walk(document.body);
		return out;
	};
	const visible = el => {
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0 && getComputedStyle(el).visibility !== 'hidden';
	};

	const els = kind === 'label' ? byLabel() : byText();
	const res = {count: els.length};
	if (els.length !== 1) return res;
	const el = els[0];
	switch (op) {
	case 'visible':
		res.visible = visible(el);
		break;
	case 'attr':
		res.present = el.hasAttribute(arg);
		res.value = el.getAttribute(arg) || '';
		break;
	case 'point': {
		el.scrollIntoView({block: 'center', inline: 'center'});
		const r = el.getBoundingClientRect();
		res.visible = visible(el);
		res.x = r.left + r.width / 2;
		res.y = r.top + r.height / 2;
		break;
	}
	}
	return res;
}`

// elementQuery identifies elements by accessible label or by visible text.
type elementQuery struct {
	kind  string
	value string
	exact bool
}

func labelQuery(label string, exact bool) elementQuery {
	return elementQuery{kind: queryLabel, value: label, exact: exact}
}

func textQuery(text string, exact bool) elementQuery {
	return elementQuery{kind: queryText, value: text, exact: exact}
}

func (q elementQuery) String() string {
	s := fmt.Sprintf("%s %q", q.kind, q.value)
	if q.exact {
		s += " (exact)"
	}
	return s
}

// expression renders a self-contained JS call applying op to q.
func (q elementQuery) expression(op, arg string) string {
	args, _ := json.Marshal([]any{q.kind, q.value, q.exact, op, arg})
	return "(" + resolverJS + ")(..." + string(args) + ")"
}

// resolution is the JSON value returned by resolverJS.
type resolution struct {
	Count   int     `json:"count"`
	Visible bool    `json:"visible"`
	Present bool    `json:"present"`
	Value   string  `json:"value"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// single reports ErrNotFound or ErrStrictMode unless exactly one element
// matched.
func (r resolution) single(q elementQuery) error {
	switch {
	case r.Count == 0:
		return fmt.Errorf("%s: %w", q, ErrNotFound)
	case r.Count > 1:
		return fmt.Errorf("%s resolved to %d elements: %w", q, r.Count, ErrStrictMode)
	}
	return nil
}
