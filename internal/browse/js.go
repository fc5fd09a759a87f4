package browse

import (
	"encoding/json"
	"fmt"
	"strings"
)

// The JS snippets below are shared by both drivers. Every snippet is an IIFE
// returning JSON.stringify of an envelope with a "found" flag, so
// selector-not-found is always distinguishable from an empty result.

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsStringSlice(v []string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func wrapJS(body string) string {
	return "(function(){\ntry {\n" + body + `
} catch (err) {
return JSON.stringify({found:false, error:String(err && err.message || err)});
}
})()`
}

func jsPageState() string {
	return wrapJS(`return JSON.stringify({found:true, url:location.href, title:document.title});`)
}

// jsElementBox scrolls the element into view and reports its viewport
// geometry, for midpoint-targeted synthetic input.
func jsElementBox(sel string) string {
	return wrapJS(fmt.Sprintf(`const el = document.querySelector(%s);
if (!el) return JSON.stringify({found:false});
el.scrollIntoView({block:'center', inline:'center'});
const r = el.getBoundingClientRect();
return JSON.stringify({found:true, x:r.x, y:r.y, width:r.width, height:r.height});`, jsString(sel)))
}

func jsFill(sel, value string) string {
	return wrapJS(fmt.Sprintf(`const el = document.querySelector(%s);
if (!el) return JSON.stringify({found:false});
el.focus();
el.value = %s;
el.dispatchEvent(new Event('input', {bubbles:true}));
el.dispatchEvent(new Event('change', {bubbles:true}));
return JSON.stringify({found:true});`, jsString(sel), jsString(value)))
}

func jsFocus(sel string) string {
	return wrapJS(fmt.Sprintf(`const el = document.querySelector(%s);
if (!el) return JSON.stringify({found:false});
el.focus();
return JSON.stringify({found:true});`, jsString(sel)))
}

func jsSelectOption(sel string, values []string) string {
	return wrapJS(fmt.Sprintf(`const el = document.querySelector(%s);
if (!el) return JSON.stringify({found:false});
const want = %s;
const selected = [];
for (const opt of el.options) {
  opt.selected = want.includes(opt.value) || want.includes(opt.textContent.trim());
  if (opt.selected) selected.push(opt.value);
}
el.dispatchEvent(new Event('input', {bubbles:true}));
el.dispatchEvent(new Event('change', {bubbles:true}));
return JSON.stringify({found:true, selected:selected});`, jsString(sel), jsStringSlice(values)))
}

func jsText(sel string) string {
	if sel == "" {
		return wrapJS(`return JSON.stringify({found:true, value:document.body ? document.body.innerText : ''});`)
	}
	return wrapJS(fmt.Sprintf(`const el = document.querySelector(%s);
if (!el) return JSON.stringify({found:false});
return JSON.stringify({found:true, value:el.innerText});`, jsString(sel)))
}

func jsContent(sel string) string {
	if sel == "" {
		return wrapJS(`return JSON.stringify({found:true, value:document.documentElement.outerHTML});`)
	}
	return wrapJS(fmt.Sprintf(`const el = document.querySelector(%s);
if (!el) return JSON.stringify({found:false});
return JSON.stringify({found:true, value:el.outerHTML});`, jsString(sel)))
}

func jsAttribute(sel, name string) string {
	return wrapJS(fmt.Sprintf(`const el = document.querySelector(%s);
if (!el) return JSON.stringify({found:false});
const v = el.getAttribute(%s);
return JSON.stringify({found:true, value:v === null ? '' : v, present:v !== null});`, jsString(sel), jsString(name)))
}

func jsScroll(sel string, dx, dy float64) string {
	if sel != "" {
		return wrapJS(fmt.Sprintf(`const el = document.querySelector(%s);
if (!el) return JSON.stringify({found:false});
el.scrollIntoView({block:'center', behavior:'instant'});
return JSON.stringify({found:true});`, jsString(sel)))
	}
	return wrapJS(fmt.Sprintf(`window.scrollBy(%g, %g);
return JSON.stringify({found:true});`, dx, dy))
}

func jsReadyState() string {
	return wrapJS(`return JSON.stringify({found:true, value:document.readyState});`)
}

// jsWaitPredicate evaluates one wait-for condition to a boolean.
func jsWaitPredicate(cond WaitCondition) string {
	switch {
	case cond.URLContains != "":
		return wrapJS(fmt.Sprintf(`return JSON.stringify({found:true, ok:location.href.includes(%s)});`, jsString(cond.URLContains)))
	case cond.TextContains != "":
		return wrapJS(fmt.Sprintf(`const body = document.body ? document.body.innerText : '';
return JSON.stringify({found:true, ok:body.includes(%s)});`, jsString(cond.TextContains)))
	}

	visible := `(function(el){
if (!el) return false;
const r = el.getBoundingClientRect();
if (r.width === 0 || r.height === 0) return false;
const st = getComputedStyle(el);
return st.visibility !== 'hidden' && st.display !== 'none';
})`
	var expr string
	switch cond.State {
	case WaitAttached:
		expr = "!!el"
	case WaitDetached:
		expr = "!el"
	case WaitHidden:
		expr = "!isVisible(el)"
	default: // visible
		expr = "isVisible(el)"
	}
	return wrapJS(fmt.Sprintf(`const isVisible = %s;
const el = document.querySelector(%s);
return JSON.stringify({found:true, ok:%s});`, visible, jsString(cond.Selector), expr))
}

// jsEnvelope is the parsed form of every snippet's return value.
type jsEnvelope struct {
	Found    bool            `json:"found"`
	OK       bool            `json:"ok"`
	Value    string          `json:"value"`
	Present  bool            `json:"present"`
	Selected []string        `json:"selected"`
	Error    string          `json:"error"`
	X        float64         `json:"x"`
	Y        float64         `json:"y"`
	Width    float64         `json:"width"`
	Height   float64         `json:"height"`
	URL      string          `json:"url"`
	Title    string          `json:"title"`
	Raw      json.RawMessage `json:"-"`
}

func parseEnvelope(raw string) (jsEnvelope, error) {
	var env jsEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return env, err
	}
	env.Raw = json.RawMessage(raw)
	return env, nil
}

// decodeEvalString unwraps a Runtime.evaluate string result: the snippets
// return JSON-encoded strings, so the value itself is one more JSON layer.
func decodeEvalString(value json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		// Not a string; hand back the raw JSON text.
		return strings.TrimSpace(string(value)), nil
	}
	return s, nil
}
