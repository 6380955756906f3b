package chat

// chatPageHTML is the single-page chat UI. It talks to /api/chat and
// /api/tools; the session id is kept in the page so reloads start fresh.
const chatPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Atlas Assistant</title>
<style>
  body { font-family: -apple-system, Segoe UI, sans-serif; margin: 0; background: #f4f5f7; }
  header { background: #0052cc; color: #fff; padding: 12px 20px; display: flex; justify-content: space-between; align-items: center; }
  header h1 { font-size: 16px; margin: 0; }
  header button { background: #fff; color: #0052cc; border: 0; border-radius: 3px; padding: 6px 12px; cursor: pointer; }
  main { display: flex; max-width: 1100px; margin: 0 auto; gap: 16px; padding: 16px; }
  #chat { flex: 2; display: flex; flex-direction: column; height: calc(100vh - 110px); }
  #log { flex: 1; overflow-y: auto; background: #fff; border: 1px solid #dfe1e6; border-radius: 3px; padding: 12px; }
  .msg { margin: 8px 0; padding: 8px 12px; border-radius: 6px; max-width: 80%; white-space: pre-wrap; }
  .user { background: #deebff; margin-left: auto; }
  .assistant { background: #f4f5f7; border: 1px solid #dfe1e6; }
  form { display: flex; gap: 8px; margin-top: 8px; }
  input[type=text] { flex: 1; padding: 10px; border: 1px solid #dfe1e6; border-radius: 3px; }
  form button { background: #0052cc; color: #fff; border: 0; border-radius: 3px; padding: 0 16px; cursor: pointer; }
  #tools { flex: 1; background: #fff; border: 1px solid #dfe1e6; border-radius: 3px; padding: 12px; overflow-y: auto; height: calc(100vh - 134px); }
  #tools h2 { font-size: 14px; margin-top: 0; }
  .tool { border-bottom: 1px solid #ebecf0; padding: 8px 0; }
  .tool b { font-family: monospace; font-size: 13px; cursor: pointer; }
  .tool p { margin: 4px 0 0; font-size: 12px; color: #5e6c84; }
  .tool form { display: none; flex-direction: column; gap: 4px; margin-top: 6px; }
  .tool form.open { display: flex; }
  .tool form label { font-size: 11px; color: #5e6c84; }
  .tool form input { padding: 5px; border: 1px solid #dfe1e6; border-radius: 3px; font-size: 12px; }
  .tool form button { align-self: flex-start; margin-top: 4px; padding: 4px 10px; }
</style>
</head>
<body>
<header>
  <h1>Atlas Assistant</h1>
  <button id="refresh">Refresh tools</button>
</header>
<main>
  <div id="chat">
    <div id="log"></div>
    <form id="form">
      <input id="input" type="text" autocomplete="off"
        placeholder='Ask, or call a tool directly: create_ticket(project_key="DEMO", summary="...", description="...")'>
      <button type="submit">Send</button>
    </form>
  </div>
  <aside id="tools"><h2>Available tools</h2><div id="toollist">Loading…</div></aside>
</main>
<script>
let sessionId = "";
const log = document.getElementById("log");

function append(role, text) {
  const div = document.createElement("div");
  div.className = "msg " + role;
  div.textContent = text;
  log.appendChild(div);
  log.scrollTop = log.scrollHeight;
}

// toolForm builds an argument form from the canonical schema. Submitting it
// sends the literal-call string exactly as if the user had typed it.
function toolForm(t) {
  const form = document.createElement("form");
  const props = t.parameters.properties || {};
  const required = t.parameters.required || [];
  for (const name of Object.keys(props).sort()) {
    const label = document.createElement("label");
    label.textContent = name + (required.includes(name) ? " *" : "") +
      " (" + (props[name].type || "string") + ")";
    const input = document.createElement("input");
    input.name = name;
    input.placeholder = props[name].description || "";
    if (required.includes(name)) input.required = true;
    form.appendChild(label);
    form.appendChild(input);
  }
  const btn = document.createElement("button");
  btn.type = "submit";
  btn.textContent = "Call";
  form.appendChild(btn);
  form.addEventListener("submit", (ev) => {
    ev.preventDefault();
    const args = [];
    for (const input of form.querySelectorAll("input")) {
      if (input.value !== "") args.push(input.name + "='" + input.value + "'");
    }
    send(t.name + "(" + args.join(", ") + ")");
    form.classList.remove("open");
  });
  return form;
}

async function loadTools() {
  const el = document.getElementById("toollist");
  try {
    const resp = await fetch("/api/tools");
    const data = await resp.json();
    el.innerHTML = "";
    for (const t of data.tools) {
      const d = document.createElement("div");
      d.className = "tool";
      const name = document.createElement("b");
      const params = Object.keys(t.parameters.properties || {}).join(", ");
      name.textContent = t.name + "(" + params + ")";
      const desc = document.createElement("p");
      desc.textContent = t.description;
      const form = toolForm(t);
      name.addEventListener("click", () => form.classList.toggle("open"));
      d.appendChild(name);
      d.appendChild(desc);
      d.appendChild(form);
      el.appendChild(d);
    }
    if (data.tools.length === 0) el.textContent = "No tools. Are the providers running?";
  } catch (e) {
    el.textContent = "Failed to load tools: " + e;
  }
}

document.getElementById("refresh").addEventListener("click", async () => {
  await fetch("/api/tools/refresh", { method: "POST" });
  loadTools();
});

async function send(message) {
  append("user", message);
  try {
    const resp = await fetch("/api/chat", {
      method: "POST",
      headers: { "Content-Type": "application/json" },
      body: JSON.stringify({ session_id: sessionId, message }),
    });
    const data = await resp.json();
    if (!resp.ok) {
      append("assistant", "Error: " + (data.error || resp.statusText));
      return;
    }
    sessionId = data.session_id;
    append("assistant", data.reply);
  } catch (e) {
    append("assistant", "Request failed: " + e);
  }
}

document.getElementById("form").addEventListener("submit", (ev) => {
  ev.preventDefault();
  const input = document.getElementById("input");
  const message = input.value.trim();
  if (!message) return;
  input.value = "";
  send(message);
});

loadTools();
</script>
</body>
</html>
`
